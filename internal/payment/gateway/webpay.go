package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"

	"ms-redemption/internal/models"
)

const webpayTransactionsPath = "/rswebpaytransaction/api/webpay/v1.2/transactions"

// Webpay talks to the Transbank Webpay Plus REST API.
type Webpay struct {
	baseURL      string
	commerceCode string
	apiKey       string
	client       *http.Client
}

func NewWebpay(baseURL, commerceCode, apiKey string, client *http.Client) *Webpay {
	if client == nil {
		client = http.DefaultClient
	}
	return &Webpay{
		baseURL:      strings.TrimRight(baseURL, "/"),
		commerceCode: commerceCode,
		apiKey:       apiKey,
		client:       client,
	}
}

type webpayCreateRequest struct {
	BuyOrder  string `json:"buy_order"`
	SessionID string `json:"session_id"`
	Amount    int64  `json:"amount"`
	ReturnURL string `json:"return_url"`
}

type webpayCreateResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type webpayCommitResponse struct {
	VCI               string  `json:"vci"`
	Amount            float64 `json:"amount"`
	Status            string  `json:"status"`
	BuyOrder          string  `json:"buy_order"`
	SessionID         string  `json:"session_id"`
	AuthorizationCode string  `json:"authorization_code"`
	PaymentTypeCode   string  `json:"payment_type_code"`
	ResponseCode      int     `json:"response_code"`
}

func (w *Webpay) BeginPayment(ctx context.Context, req models.BeginRequest) (models.BeginResponse, error) {
	if err := validateBegin(req); err != nil {
		return models.BeginResponse{}, err
	}

	var out webpayCreateResponse
	err := w.do(ctx, http.MethodPost, webpayTransactionsPath, webpayCreateRequest{
		BuyOrder:  req.BuyOrder,
		SessionID: req.SessionID,
		Amount:    req.AmountMinorUnits,
		ReturnURL: req.ReturnURL,
	}, &out)
	if err != nil {
		return models.BeginResponse{}, unavailable("create transaction", err)
	}
	if out.Token == "" || out.URL == "" {
		return models.BeginResponse{}, unavailable("create transaction", fmt.Errorf("empty token or url"))
	}

	return models.BeginResponse{
		Token:       out.Token,
		RedirectURL: out.URL + "?token_ws=" + url.QueryEscape(out.Token),
	}, nil
}

func (w *Webpay) CommitPayment(ctx context.Context, token string) (models.CommitResult, error) {
	if token == "" {
		return models.CommitResult{}, fmt.Errorf("%w: empty token", models.ErrValidation)
	}

	var out webpayCommitResponse
	if err := w.do(ctx, http.MethodPut, webpayTransactionsPath+"/"+url.PathEscape(token), nil, &out); err != nil {
		return models.CommitResult{}, unavailable("commit transaction", err)
	}

	return models.CommitResult{
		Authorized:     out.Status == "AUTHORIZED",
		ResponseCode:   out.ResponseCode,
		SettledOrderID: out.BuyOrder,
		Amount:         int64(math.Round(out.Amount)),
	}, nil
}

func (w *Webpay) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Tbk-Api-Key-Id", w.commerceCode)
	req.Header.Set("Tbk-Api-Key-Secret", w.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
