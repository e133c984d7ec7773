// Command stress drives a running reliefd with concurrent reservations,
// an injection probe and a request flood, and checks that stock is conserved.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"relief.org/internal/auth"
)

type client struct {
	base string
	http *http.Client
}

func (c *client) do(ctx context.Context, method, path, token string, body any, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func main() {
	var (
		base     = flag.String("addr", envOr("RELIEF_STRESS_ADDR", "http://localhost:8080"), "reliefd base URL")
		secret   = flag.String("secret", os.Getenv("RELIEF_AUTH_SECRET"), "HS256 secret shared with reliefd")
		issuer   = flag.String("issuer", envOr("RELIEF_AUTH_ISSUER", "relief-identity"), "token issuer")
		total    = flag.Int64("total", 1000, "initial resource quantity")
		workers  = flag.Int("workers", 64, "concurrent reservations")
		quantity = flag.Int64("quantity", 25, "quantity per reservation")
		flood    = flag.Int("flood", 150, "requests sent by the flood probe")
	)
	flag.Parse()
	log.SetFlags(0)

	if *secret == "" {
		log.Fatal("missing secret: provide -secret or RELIEF_AUTH_SECRET")
	}
	authority := mustToken(*secret, *issuer, "stress-authority", auth.RoleAuthority)
	volunteer := mustToken(*secret, *issuer, "stress-volunteer", auth.RoleVolunteer)

	c := &client{base: *base, http: &http.Client{Timeout: 10 * time.Second}}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var res struct {
		ID string `json:"id"`
	}
	code, err := c.do(ctx, http.MethodPost, "/resources", authority, map[string]any{
		"name":           fmt.Sprintf("stress-%d", time.Now().UnixNano()),
		"type":           "stress",
		"total_quantity": *total,
	}, &res)
	if err != nil || code != http.StatusCreated {
		log.Fatalf("create resource: status=%d err=%v", code, err)
	}

	var ok, rejected atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		g.Go(func() error {
			code, err := c.do(gctx, http.MethodPost, "/resources/assign", authority, map[string]any{
				"incident_id": "stress-incident",
				"resource_id": res.ID,
				"quantity":    *quantity,
			}, nil)
			if err != nil {
				return err
			}
			switch code {
			case http.StatusOK:
				ok.Add(1)
			case http.StatusConflict:
				rejected.Add(1)
			default:
				return fmt.Errorf("assign: unexpected status %d", code)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("reservations: %v", err)
	}

	var resources []struct {
		ID                string `json:"id"`
		TotalQuantity     int64  `json:"total_quantity"`
		AvailableQuantity int64  `json:"available_quantity"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/resources", authority, nil, &resources); err != nil {
		log.Fatalf("list resources: %v", err)
	}
	var available int64 = -1
	for _, r := range resources {
		if r.ID == res.ID {
			available = r.AvailableQuantity
		}
	}
	q := *quantity
	want := *total - ok.Load()*q
	if available < 0 || available != want {
		log.Fatalf("conservation failed: available=%d want=%d (ok=%d rejected=%d)", available, want, ok.Load(), rejected.Load())
	}
	fmt.Printf("reservations: ok=%d rejected=%d available=%d\n", ok.Load(), rejected.Load(), available)

	code, err = c.do(ctx, http.MethodPost, "/incidents", authority, map[string]any{
		"title":       "Injection probe",
		"type":        "probe",
		"location":    "nowhere",
		"description": "<script>alert('x')</script>",
	}, nil)
	if err != nil || code != http.StatusForbidden {
		log.Fatalf("injection probe: expected 403, got status=%d err=%v", code, err)
	}
	fmt.Println("injection probe: rejected with 403")

	throttled := 0
	for i := 0; i < *flood && throttled == 0; i++ {
		code, err := c.do(ctx, http.MethodGet, "/resources", volunteer, nil, nil)
		if err != nil {
			log.Fatalf("flood: %v", err)
		}
		if code == http.StatusTooManyRequests {
			throttled = i + 1
		}
	}
	if throttled == 0 {
		log.Fatalf("flood probe: no 429 after %d requests", *flood)
	}
	fmt.Printf("flood probe: throttled after %d requests\n", throttled)
}

func mustToken(secret, issuer, actor, role string) string {
	tok, err := auth.SignToken(secret, issuer, actor, role, 10*time.Minute)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	return tok
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
