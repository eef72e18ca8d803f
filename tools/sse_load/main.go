// Command sse_load opens many concurrent subscriptions to the captur state
// stream and optionally flips the sharing toggle to force state events.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	events      atomic.Int64
	toggles     atomic.Int64
	toggleErrs  atomic.Int64
}

func (c *counters) String() string {
	return fmt.Sprintf("connected=%d connect_errs=%d stream_errs=%d state_events=%d toggles=%d toggle_errs=%d",
		c.connected.Load(), c.connectErrs.Load(), c.streamErrs.Load(), c.events.Load(),
		c.toggles.Load(), c.toggleErrs.Load())
}

func main() {
	var (
		baseURL      string
		connections  int
		testDuration time.Duration
		rampUp       time.Duration
		toggleEvery  time.Duration
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8080", "captur http address")
	flag.IntVar(&connections, "conns", 200, "number of concurrent stream subscriptions")
	flag.DurationVar(&testDuration, "dur", 30*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", time.Second, "spread connection starts across this window")
	flag.DurationVar(&toggleEvery, "toggle", 0, "flip location sharing at this interval (0 disables)")
	flag.Parse()

	if connections <= 0 {
		log.Fatalf("invalid conns: %d", connections)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if testDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, testDuration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 10,
			MaxIdleConnsPerHost: connections + 10,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	log.Printf("starting state stream load: url=%s conns=%d duration=%s ramp=%s toggle=%s",
		baseURL, connections, testDuration, rampUp, toggleEvery)

	var (
		c  counters
		wg sync.WaitGroup
	)
	start := time.Now()

	if toggleEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			toggleLoop(ctx, client, baseURL, toggleEvery, &c)
		}()
	}

	interval := rampUp / time.Duration(connections)
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			subscribe(ctx, client, baseURL+"/state/stream", &c)
		}()
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Printf("status: %s elapsed=%s", &c, time.Since(start).Truncate(time.Second))
			}
		}
	}()

	<-ctx.Done()
	wg.Wait()

	elapsed := time.Since(start)
	fmt.Printf("done: %s elapsed=%s events/s=%.2f\n",
		&c, elapsed.Truncate(time.Millisecond), float64(c.events.Load())/elapsed.Seconds())
}

// subscribe reads the stream until ctx ends, counting "event: state" frames.
func subscribe(ctx context.Context, client *http.Client, url string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.connectErrs.Add(1)
		return
	}

	c.connected.Add(1)
	defer c.connected.Add(-1)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				c.streamErrs.Add(1)
			}
			return
		}
		if strings.TrimSpace(line) == "event: state" {
			c.events.Add(1)
		}
	}
}

func toggleLoop(ctx context.Context, client *http.Client, baseURL string, every time.Duration, c *counters) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	enabled := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			body, _ := json.Marshal(map[string]bool{"enabled": enabled})
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/sharing", bytes.NewReader(body))
			if err != nil {
				c.toggleErrs.Add(1)
				continue
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				c.toggleErrs.Add(1)
				continue
			}
			_ = resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				c.toggleErrs.Add(1)
				continue
			}
			c.toggles.Add(1)
			enabled = !enabled
		}
	}
}
