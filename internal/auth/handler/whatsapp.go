package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qaaqit/identity-service/internal/auth/whatsapp"
	"github.com/qaaqit/identity-service/internal/logger"
)

type whatsappCodeRequest struct {
	Phone string `json:"phone"`
}

type whatsappVerifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// WhatsAppRequestCode issues a one-time code for the phone number and
// hands it to the delivery channel. The response never contains the
// code.
func (h *Handler) WhatsAppRequestCode(c *gin.Context) {
	var req whatsappCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	phone := whatsapp.NormalizePhone(req.Phone)
	if phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
		return
	}

	code, err := h.whatsappCodes.Issue(c.Request.Context(), phone)
	if err != nil {
		logger.Error("whatsapp otp issue failed", map[string]any{
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue code"})
		return
	}

	if err := h.whatsappSender.SendCode(c.Request.Context(), phone, code); err != nil {
		logger.Error("whatsapp otp delivery failed", map[string]any{
			"phone": phone,
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deliver code"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "code_sent"})
}

// WhatsAppVerify checks the code and, on success, resolves the phone
// number to exactly one user. The identity is created verified because
// this is the only path that can reach resolution.
func (h *Handler) WhatsAppVerify(c *gin.Context) {
	var req whatsappVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Phone == "" || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ok, err := h.whatsappCodes.Verify(c.Request.Context(), req.Phone, req.Code)
	if err != nil {
		logger.Error("whatsapp otp verify failed", map[string]any{
			"error": err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification error"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired code"})
		return
	}

	h.finishLogin(c, whatsapp.Login(req.Phone))
}
