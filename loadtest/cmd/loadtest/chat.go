package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/socio/backend/internal/chat"
	"github.com/socio/backend/internal/messaging"
	"github.com/socio/backend/internal/protocol"
	"github.com/socio/backend/loadtest/stats"
)

const stampPrefix = "lt "

// runChat subscribes relay clients to one chat channel, posts messages
// through the REST API and measures the time from send to delivery.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	wsURL := fs.String("url", "ws://localhost:8080/ws", "Relay websocket URL")
	apiURL := fs.String("api", "http://localhost:8080", "REST API base URL")
	channel := fs.String("channel", "loadtest", "Chat channel to use")
	subscribers := fs.Int("subscribers", 100, "Relay clients subscribed to the channel")
	senders := fs.Int("senders", 10, "Concurrent message senders")
	duration := fs.Duration("duration", 30*time.Second, "How long senders keep posting")
	interval := fs.Duration("interval", 2*time.Second, "Interval between messages per sender")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration for subscribers")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous dials during ramp-up")
	metricsURL := fs.String("metrics-url", "http://localhost:8080/metrics", "Prometheus metrics endpoint URL")
	fs.Parse(args)

	fmt.Printf("Chat test: %d subscribers, %d senders on %q (duration=%s, interval=%s)\n",
		*subscribers, *senders, *channel, *duration, *interval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	scraper := stats.NewScraper(*metricsURL, 2*time.Second)
	collector.SetScraper(scraper)
	scraper.Start(ctx)
	defer func() {
		scraper.Stop()
		collector.Report(os.Stdout)
	}()

	relayChannel := "chat-" + *channel
	fmt.Println("\n--- Subscribing ---")
	clients := ramp(ctx, *wsURL+"?channel="+relayChannel, *subscribers, *rampUp, *concurrency, collector)
	defer closeAll(clients)

	ready := clients[:0]
	for _, c := range clients {
		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.WaitSubscribed(waitCtx, relayChannel)
		cancel()
		if err != nil {
			collector.AddError()
			c.Close()
			continue
		}
		c.On(protocol.TypeEvent, func(raw json.RawMessage) {
			if sent, ok := deliveryStamp(raw); ok {
				collector.Observe("delivery", time.Since(sent))
				collector.Count("delivered")
			}
		})
		ready = append(ready, c)
	}
	clients = ready
	fmt.Printf("%d subscribers ready\n", len(clients))
	if len(clients) == 0 || ctx.Err() != nil {
		return
	}

	fmt.Println("\n--- Sending ---")
	sendCtx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	endpoint := strings.TrimRight(*apiURL, "/") + "/api/send-message"

	var wg sync.WaitGroup
	for i := range *senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := chat.User{UID: fmt.Sprintf("loadtest-%d", i), Name: fmt.Sprintf("loadtest %d", i)}
			ticker := time.NewTicker(*interval)
			defer ticker.Stop()
			for {
				select {
				case <-sendCtx.Done():
					return
				case <-ticker.C:
				}
				sendOnce(sendCtx, httpClient, endpoint, user, *channel, collector)
			}
		}()
	}
	wg.Wait()

	// Let in-flight deliveries land.
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	fmt.Printf("\nSent %d messages, %d deliveries across %d subscribers\n",
		collector.Counter("sent"), collector.Counter("delivered"), len(clients))
}

func sendOnce(ctx context.Context, hc *http.Client, endpoint string, user chat.User, channel string, collector *stats.Collector) {
	req := chat.SendRequest{
		Text:    stampPrefix + strconv.FormatInt(time.Now().UnixNano(), 10),
		User:    user,
		Channel: channel,
	}
	start := time.Now()
	status, _, err := postJSON(ctx, hc, endpoint, user.UID, req)
	switch {
	case err != nil:
		if ctx.Err() == nil {
			collector.AddError()
		}
	case status == http.StatusTooManyRequests:
		collector.Count("rate_limited")
	case status != http.StatusOK:
		collector.AddError()
	default:
		collector.Observe("send", time.Since(start))
		collector.Count("sent")
	}
}

// deliveryStamp extracts the send time embedded in a relayed message.
func deliveryStamp(raw json.RawMessage) (time.Time, bool) {
	var ev protocol.EventMsg
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Event != messaging.EventNewMessage {
		return time.Time{}, false
	}
	var msg chat.Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		return time.Time{}, false
	}
	stamp, ok := strings.CutPrefix(msg.Text, stampPrefix)
	if !ok {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
