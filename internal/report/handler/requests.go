package handler

import (
	clusterModels "civicproof/internal/cluster/models"
	"civicproof/internal/report/models"
	dErrors "civicproof/pkg/domain-errors"
)

// GenerateRequest is the body of POST /reports.
type GenerateRequest struct {
	Category string `json:"category"`
	Location string `json:"location"`

	key clusterModels.Key
}

func (r *GenerateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	key, err := clusterModels.NewKey(r.Category, r.Location)
	if err != nil {
		return err
	}
	r.key = key
	return nil
}

// BatchRequest is the body of POST /reports/batch.
type BatchRequest struct {
	Anchor bool `json:"anchor"`
}

func (r *BatchRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return nil
}

type generateResponse struct {
	Report     *models.Report `json:"report"`
	Created    bool           `json:"created"`
	Superseded int            `json:"superseded"`
}

type historyResponse struct {
	Reports []*models.Report `json:"reports"`
}
