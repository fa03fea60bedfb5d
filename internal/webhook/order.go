// Package webhook accepts structured order events over HTTP and
// republishes them as notifications.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tracyhatemice/mailwatch/internal/notify"
)

// OrderPayload is the inbound order event. Only ItemName is required;
// everything else defaults to its zero value.
type OrderPayload struct {
	Department  string `json:"department"`
	ItemName    string `json:"itemName"`
	ModelNumber string `json:"modelNumber"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int64  `json:"quantity"`
	Unit        string `json:"unit"`
	StoreName   string `json:"storeName"`
	ItemURL     string `json:"itemUrl"`
	Notes       string `json:"notes"`
	Timestamp   string `json:"timestamp"`
	Applicant   string `json:"applicant"`
}

// Server listens for order webhooks and forwards them to the sink.
type Server struct {
	addr      string
	channelID string
	sink      notify.Sink
	logger    *slog.Logger
	srv       *http.Server
}

// NewServer creates the webhook server. channelID is the order
// notification destination.
func NewServer(addr, channelID string, sink notify.Sink, logger *slog.Logger) *Server {
	s := &Server{
		addr:      addr,
		channelID: channelID,
		sink:      sink,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/order", s.handleOrder)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Name identifies the feature.
func (s *Server) Name() string { return "order-notification" }

// Init binds the listen address and starts serving. A bind failure is
// fatal to startup.
func (s *Server) Init(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("webhook listen %s: %w", s.addr, err)
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("webhook server stopped", "error", err)
		}
	}()

	s.logger.Info("webhook server listening", "addr", s.addr)
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var payload OrderPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}
	if payload.ItemName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "itemName is required to create a notification.",
		})
		return
	}

	s.logger.Info("order webhook received", "item", payload.ItemName, "applicant", payload.Applicant)

	// Delivery is best-effort; the webhook caller is acknowledged
	// regardless.
	if s.channelID == "" {
		s.logger.Error("order channel is not configured, dropping notification")
	} else if err := s.sink.Send(s.channelID, formatOrder(payload)); err != nil {
		s.logger.Error("failed to send order notification", "item", payload.ItemName, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Webhook received"})
}

func formatOrder(p OrderPayload) notify.Notification {
	total := p.UnitPrice * p.Quantity

	itemURLText := "N/A"
	if p.ItemURL != "" {
		itemURLText = fmt.Sprintf("[商品ページ](%s)", p.ItemURL)
	}

	applicant := p.Applicant
	if applicant == "" {
		applicant = "（シート直接入力）"
	}

	timestamp := time.Now()
	if p.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
			timestamp = ts
		}
	}

	fields := []notify.Field{
		{Name: "部署", Value: orNA(p.Department), Inline: true},
		{Name: "申請者", Value: applicant, Inline: true},
		{Name: "品名", Value: p.ItemName},
		{Name: "型番", Value: orNA(p.ModelNumber)},
		{Name: "単価", Value: "¥" + groupDigits(p.UnitPrice), Inline: true},
		{Name: "数量", Value: fmt.Sprintf("%d %s", p.Quantity, p.Unit), Inline: true},
		{Name: "合計金額", Value: "¥" + groupDigits(total), Inline: true},
		{Name: "購入店", Value: orNA(p.StoreName)},
		{Name: "リンク", Value: itemURLText},
	}
	if p.Notes != "" {
		fields = append(fields, notify.Field{Name: "備考", Value: p.Notes})
	}

	return notify.Notification{
		Title:       "📦 備品発注申請 (仮登録)",
		Description: "スプレッドシートの行が更新されました。\n全ての項目が入力されているか確認してください。",
		Color:       0xFEE75C,
		Fields:      fields,
		Timestamp:   timestamp,
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// groupDigits formats n with thousands separators.
func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
