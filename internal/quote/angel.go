package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/contactkeval/option-analytics/internal/logger"
	"github.com/contactkeval/option-analytics/internal/store"
)

const defaultBaseURL = "https://apiconnect.angelone.in"

// candleTimeLayout is the wire format of request date bounds.
const candleTimeLayout = "2006-01-02 15:04"

// angelSource fetches candles from the Angel One historical-data endpoint.
//
// Authentication tokens are provided by the caller; session management
// and token refresh live outside this package.
type angelSource struct {
	client *resty.Client
	loc    *time.Location
}

// candleRequest is the getCandleData request body.
type candleRequest struct {
	Exchange    string `json:"exchange"`
	SymbolToken string `json:"symboltoken"`
	Interval    string `json:"interval"`
	FromDate    string `json:"fromdate"`
	ToDate      string `json:"todate"`
}

// candleResponse is the getCandleData response envelope. Each data row is
// [timestamp, open, high, low, close, volume].
type candleResponse struct {
	Status  bool                `json:"status"`
	Message string              `json:"message"`
	Data    [][]json.RawMessage `json:"data"`
}

// NewAngelSource builds a Source over the Angel One candle API.
//
// Bar timestamps from the API carry an exchange-zone offset; they are
// normalized to loc and truncated to the minute before being returned.
func NewAngelSource(baseURL, apiKey, jwtToken string, loc *time.Location) Source {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("X-PrivateKey", apiKey).
		SetAuthToken(jwtToken)

	return &angelSource{client: client, loc: loc}
}

// FetchHistory requests candles for one token over [from, to].
func (s *angelSource) FetchHistory(
	ctx context.Context,
	exchange, token string,
	from, to time.Time,
	interval string,
) ([]store.Bar, error) {

	logger.Debugf(
		"event=fetch_history exchange=%s token=%s from=%s to=%s interval=%s",
		exchange, token,
		from.Format(candleTimeLayout), to.Format(candleTimeLayout),
		interval,
	)

	body := candleRequest{
		Exchange:    exchange,
		SymbolToken: token,
		Interval:    interval,
		FromDate:    from.In(s.loc).Format(candleTimeLayout),
		ToDate:      to.In(s.loc).Format(candleTimeLayout),
	}

	var out candleResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/rest/secure/angelbroking/historical/v1/getCandleData")
	if err != nil {
		return nil, &FetchError{Exchange: exchange, Token: token, Err: err}
	}
	if resp.IsError() {
		return nil, &FetchError{
			Exchange: exchange,
			Token:    token,
			Err:      fmt.Errorf("status %d: %s", resp.StatusCode(), out.Message),
		}
	}
	if !out.Status {
		return nil, &FetchError{
			Exchange: exchange,
			Token:    token,
			Err:      fmt.Errorf("api rejected request: %s", out.Message),
		}
	}

	bars := make([]store.Bar, 0, len(out.Data))
	for _, row := range out.Data {
		bar, err := s.decodeRow(token, row)
		if err != nil {
			logger.Tracef("event=skip_candle token=%s err=%v", token, err)
			continue // malformed row, keep the rest of the batch
		}
		bars = append(bars, bar)
	}

	logger.Tracef("event=history_fetched token=%s bars=%d", token, len(bars))
	return bars, nil
}

// decodeRow converts one [timestamp, o, h, l, c, v] row into a Bar in the
// reference zone, minute aligned.
func (s *angelSource) decodeRow(token string, row []json.RawMessage) (store.Bar, error) {
	if len(row) < 5 {
		return store.Bar{}, fmt.Errorf("candle row has %d fields", len(row))
	}

	var tsRaw string
	if err := json.Unmarshal(row[0], &tsRaw); err != nil {
		return store.Bar{}, fmt.Errorf("candle timestamp: %w", err)
	}
	ts, err := time.Parse(time.RFC3339, tsRaw)
	if err != nil {
		return store.Bar{}, fmt.Errorf("candle timestamp %q: %w", tsRaw, err)
	}

	vals := make([]float64, 4)
	for i := 0; i < 4; i++ {
		if err := json.Unmarshal(row[i+1], &vals[i]); err != nil {
			return store.Bar{}, fmt.Errorf("candle field %d: %w", i+1, err)
		}
	}

	var volume int64
	if len(row) > 5 {
		// volume is optional in practice; ignore a malformed one
		_ = json.Unmarshal(row[5], &volume)
	}

	return store.Bar{
		SeriesID:  token,
		Timestamp: ts.In(s.loc).Truncate(time.Minute),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    volume,
	}, nil
}
