package service

import (
	"fmt"
	"net/http"

	"github.com/morezero/service-dispatcher/pkg/model"
)

// extractSingle returns the only candidate, or a 400 response stating how
// many were found.
func extractSingle(candidates []*model.ServiceResponse) *model.ServiceResponse {
	if len(candidates) == 1 {
		return candidates[0]
	}
	return model.NewServiceResponse(cardinalityMessage(len(candidates)), http.StatusBadRequest)
}

func cardinalityMessage(n int) string {
	return fmt.Sprintf("There were %d ServiceResponse objects obtained from execution. Only 1 is allowed", n)
}
