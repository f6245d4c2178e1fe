package main

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const (
	apiKeyHeader = "X-Api-Key"
	maxPayload   = 1 << 20
	maxLoggedErr = 4 << 10
)

type errorResponse struct {
	Error string `json:"error"`
}

// relay forwards send requests to the transactional email API unchanged.
type relay struct {
	client   *http.Client
	upstream string
	logger   *log.Logger
}

func newRelay(client *http.Client, upstream string, logger *log.Logger) *relay {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &relay{client: client, upstream: upstream, logger: logger}
}

func (r *relay) register(e *echo.Echo) {
	e.POST("/api/send-email", r.sendEmail)
}

func (r *relay) sendEmail(c echo.Context) error {
	key := strings.TrimSpace(c.Request().Header.Get(apiKeyHeader))
	if key == "" {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "missing " + apiKeyHeader})
	}
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayload+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	if len(body) > maxPayload {
		return c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
	}

	ctx := c.Request().Context()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.upstream, bytes.NewReader(body))
	if err != nil {
		r.logger.WithError(err).Error("build upstream request")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to send email"})
	}
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+key)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.WithError(err).WithField("upstream", r.upstream).Error("upstream request failed")
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "failed to send email"})
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		r.logger.WithError(err).Error("read upstream response")
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "failed to send email"})
	}

	fields := log.Fields{"status": resp.StatusCode}
	if resp.StatusCode >= http.StatusBadRequest {
		logged := respBody
		if len(logged) > maxLoggedErr {
			logged = logged[:maxLoggedErr]
		}
		fields["body"] = string(logged)
		r.logger.WithFields(fields).Warn("upstream rejected email")
	} else {
		r.logger.WithFields(fields).Info("email relayed")
	}

	contentType := resp.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		if len(respBody) == 0 {
			return c.NoContent(resp.StatusCode)
		}
		contentType = echo.MIMEOctetStream
	}
	return c.Blob(resp.StatusCode, contentType, respBody)
}
