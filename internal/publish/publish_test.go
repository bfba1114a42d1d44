package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peertrade/peertrade/internal/trade"
	"github.com/peertrade/peertrade/pkg/logging"
)

func completed() *trade.Config {
	return &trade.Config{
		Send:              trade.Leg{Symbol: "PPC", Address: "PBob"},
		Receive:           trade.Leg{Symbol: "BTC", Address: "1Alice"},
		Token:             "ours",
		CounterpartyToken: "theirs",
		StartTime:         time.Unix(1700000000, 0),
		EndTime:           time.Unix(1700000600, 0),
	}
}

// service answers publish_trade with result and records what it was sent.
func service(t *testing.T, result string) (*httptest.Server, *[]Record) {
	t.Helper()
	var got []Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string   `json:"method"`
			Params []Record `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
			return
		}
		if req.Method != "publish_trade" {
			t.Errorf("method = %q", req.Method)
		}
		got = append(got, req.Params...)
		_, _ = w.Write([]byte(`{"id":1,"error":null,"result":` + result + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestPublishSendsRecord(t *testing.T) {
	srv, got := service(t, `"T-42"`)
	p := New(srv.URL+"/jsonrpc", logging.Discard())

	id, err := p.Publish(context.Background(), completed())
	require.NoError(t, err)
	assert.Equal(t, "T-42", id)

	require.Len(t, *got, 1)
	rec := (*got)[0]
	assert.Equal(t, "ours", rec.Token)
	assert.Equal(t, "theirs", rec.CounterpartyToken)
	assert.Equal(t, int64(1700000000), rec.Start)
	assert.Equal(t, int64(1700000600), rec.End)
	assert.NotNil(t, rec.Transactions)
	assert.Empty(t, rec.Transactions)
}

func TestPublishResults(t *testing.T) {
	tests := []struct {
		name    string
		result  string
		want    string
		wantErr string
	}{
		{name: "numeric id", result: `17`, want: "17"},
		{name: "null", result: `null`, wantErr: "not accepted"},
		{name: "false", result: `false`, wantErr: "not accepted"},
		{name: "empty string", result: `""`, wantErr: "not accepted"},
		{name: "invalid param", result: `{"invalid_param":"token"}`, wantErr: "invalid parameter token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := service(t, tt.result)
			p := New(srv.URL, logging.Discard())
			id, err := p.Publish(context.Background(), completed())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrRejected)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestPublishUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	p := New(srv.URL, logging.Discard())
	_, err := p.Publish(context.Background(), completed())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestHost(t *testing.T) {
	assert.Equal(t, "api.example.org", New("http://api.example.org/jsonrpc", nil).Host())
	assert.Equal(t, "not a url", New("not a url", nil).Host())
}
