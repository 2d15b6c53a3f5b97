package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/academico-api/pkg/errors"
	"github.com/noah-isme/academico-api/pkg/response"
)

type contractService interface {
	DownloadToken(ctx context.Context, contractID int64) (string, time.Time, error)
	ResolveDownload(token string) (string, error)
}

// ContractHandler exposes contract document endpoints.
type ContractHandler struct {
	contracts contractService
}

// NewContractHandler constructs ContractHandler.
func NewContractHandler(contracts contractService) *ContractHandler {
	return &ContractHandler{contracts: contracts}
}

// DownloadURL godoc
// @Summary Get a signed download link for a contract document
// @Tags Contracts
// @Produce json
// @Param id path int true "Contract ID"
// @Success 200 {object} response.Envelope
// @Router /contracts/{id}/download-url [get]
func (h *ContractHandler) DownloadURL(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid contract id"))
		return
	}

	token, expiresAt, err := h.contracts.DownloadToken(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"url":        "/api/v1/contracts/download?token=" + token,
		"expires_at": expiresAt,
	}, nil)
}

// Download godoc
// @Summary Download a contract document using a signed token
// @Tags Contracts
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /contracts/download [get]
func (h *ContractHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	path, err := h.contracts.ResolveDownload(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Type", "application/pdf")
	c.File(path)
}
