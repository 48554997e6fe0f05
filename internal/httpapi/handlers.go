package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"wagate/internal/session"
	"wagate/pkg/logx"
)

type sendMessageRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type sendBulkRequest struct {
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
	// Interval between sends in milliseconds.
	Interval int64 `json:"interval"`
}

type retryRequest struct {
	TransactionID string `json:"transactionId"`
}

func (s *Server) handleQRCode(c echo.Context) error {
	state, artifact := s.sess.Status()
	if state != session.StateQRGenerated || artifact == "" {
		return fail(c, http.StatusNotFound, errors.New("QR code not available"))
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "qrCode": artifact})
}

func (s *Server) handleConnectionStatus(c echo.Context) error {
	state, artifact := s.sess.Status()
	resp := map[string]any{"success": true, "status": string(state)}
	if artifact != "" {
		resp["qrCode"] = artifact
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleReconnect(c echo.Context) error {
	s.sess.Reconnect()
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "Reconnection initiated"})
}

func (s *Server) handleSendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, errors.New("invalid request body"))
	}

	res, err := s.disp.Send(c.Request().Context(), req.To, req.Message)
	if err != nil {
		return fail(c, statusFor(err), err)
	}
	if !res.Success {
		return c.JSON(http.StatusInternalServerError, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleSendBulk(c echo.Context) error {
	var req sendBulkRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, errors.New("invalid request body"))
	}

	interval := time.Duration(req.Interval) * time.Millisecond
	jobID, err := s.disp.SendBulk(c.Request().Context(), req.Recipients, req.Message, interval)
	if err != nil {
		return fail(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"bulkId":  jobID,
		"message": "Bulk send started",
	})
}

func (s *Server) handleMessageLogs(c echo.Context) error {
	msgs, err := s.store.RecentMessages(c.Request().Context(), messageLogLimit)
	if err != nil {
		s.log.Error("listing messages", logx.Err(err))
		return fail(c, http.StatusInternalServerError, errors.New("failed to load message logs"))
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "messages": msgs})
}

func (s *Server) handleFailedTransactions(c echo.Context) error {
	txs, err := s.store.FailedTransactions(c.Request().Context(), failedTxLimit)
	if err != nil {
		s.log.Error("listing failed transactions", logx.Err(err))
		return fail(c, http.StatusInternalServerError, errors.New("failed to load failed transactions"))
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "transactions": txs})
}

func (s *Server) handleRetryMessage(c echo.Context) error {
	var req retryRequest
	if err := c.Bind(&req); err != nil || req.TransactionID == "" {
		return fail(c, http.StatusBadRequest, errors.New("transactionId is required"))
	}

	if err := s.disp.Retry(c.Request().Context(), req.TransactionID); err != nil {
		return fail(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "message": "Message retried successfully"})
}
