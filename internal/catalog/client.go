package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// medicationsResponse care-plan 服务的响应体
type medicationsResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Medications []struct {
			Name string `json:"name"`
		} `json:"medications"`
	} `json:"result"`
}

// Client care-plan 服务的 HTTP catalog 客户端
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建 care-plan 客户端
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// ExpectedMedications 获取患者的预期药品清单
func (c *Client) ExpectedMedications(ctx context.Context, patientID string) ([]string, error) {
	var response medicationsResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&response).
		SetPathParam("patientID", patientID).
		Get("/careplan/api/v1/patients/{patientID}/medications")

	if err != nil {
		c.logger.Error("Care-plan API call failed",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}

	if resp.StatusCode() != 200 {
		c.logger.Error("Care-plan API returned non-200 status",
			zap.String("patient_id", patientID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, fmt.Errorf("%w: status %d", ErrCatalogUnavailable, resp.StatusCode())
	}

	names := make([]string, 0, len(response.Result.Medications))
	for _, m := range response.Result.Medications {
		names = append(names, m.Name)
	}

	c.logger.Debug("Retrieved medication catalog",
		zap.String("patient_id", patientID),
		zap.Int("count", len(names)),
	)

	return names, nil
}
