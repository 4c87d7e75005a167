// Package relay submits reward transfers through the transaction-relay
// service. The relay executes asynchronously and reports the final status
// through the signed transaction webhook the API exposes.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

type Config struct {
	BaseURL         string
	APIKey          string
	ProjectID       string
	ContractAddress string
	ChainID         int64
	RewardWei       string
	Timeout         time.Duration
}

type Client struct {
	http            *resty.Client
	projectID       string
	contractAddress string
	chainID         int64
	rewardWei       string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetAuthToken(cfg.APIKey).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	return &Client{
		http:            client,
		projectID:       cfg.ProjectID,
		contractAddress: cfg.ContractAddress,
		chainID:         cfg.ChainID,
		rewardWei:       cfg.RewardWei,
	}
}

type sendTransactionRequest struct {
	ProjectID         string            `json:"projectId"`
	ContractAddress   string            `json:"contractAddress"`
	ChainID           int64             `json:"chainId"`
	FunctionSignature string            `json:"functionSignature"`
	Args              map[string]string `json:"args"`
}

type sendTransactionResponse struct {
	TransactionID string `json:"transactionId"`
}

// SendReward relays an ERC-20 transfer of the configured reward amount to
// the requester's wallet and returns the relay's transaction ID.
func (c *Client) SendReward(ctx context.Context, account string) (string, error) {
	var out sendTransactionResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendTransactionRequest{
			ProjectID:         c.projectID,
			ContractAddress:   c.contractAddress,
			ChainID:           c.chainID,
			FunctionSignature: "transfer(address account, uint256 value)",
			Args: map[string]string{
				"account": account,
				"value":   c.rewardWei,
			},
		}).
		SetResult(&out).
		Post("/transact/sendTransaction")
	if err != nil {
		return "", fmt.Errorf("relay transfer: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("relay transfer returned status=%d", resp.StatusCode())
	}

	if out.TransactionID == "" {
		return "", errors.New("relay returned no transaction id")
	}
	return out.TransactionID, nil
}
