// Command reportctl drives a running syncd daemon from the shell: inspect
// the pending queue, trigger a sync pass, requeue or delete entries, and
// watch the sync event stream.
//
// Usage:
//
//	reportctl -addr http://localhost:8093 -queue
//	reportctl -list
//	reportctl -sync
//	reportctl -status
//	reportctl -requeue 9f1c2c4e-...
//	reportctl -delete 9f1c2c4e-...
//	reportctl -watch
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8093", "base URL of the syncd daemon")
	queue := flag.Bool("queue", false, "print queue depth counts")
	status := flag.Bool("status", false, "print reachability and last sync pass")
	list := flag.Bool("list", false, "list queued reports")
	syncNow := flag.Bool("sync", false, "trigger a sync pass now")
	deleteID := flag.String("delete", "", "delete the queued report with this `id`")
	requeueID := flag.String("requeue", "", "requeue the failed report with this `id`")
	watch := flag.Bool("watch", false, "stream sync events until interrupted")
	flag.Parse()

	selected := 0
	for _, on := range []bool{*queue, *status, *list, *syncNow, *deleteID != "", *requeueID != "", *watch} {
		if on {
			selected++
		}
	}
	if selected != 1 {
		flag.Usage()
		os.Exit(1)
	}

	c := &client{
		base: strings.TrimRight(*addr, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}

	var err error
	switch {
	case *queue:
		err = c.printQueue()
	case *status:
		err = c.printStatus()
	case *list:
		err = c.printList()
	case *syncNow:
		err = c.triggerSync()
	case *deleteID != "":
		err = c.deleteReport(*deleteID)
	case *requeueID != "":
		err = c.requeueReport(*requeueID)
	case *watch:
		err = c.watchEvents()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reportctl: %v\n", err)
		os.Exit(1)
	}
}

type client struct {
	base string
	http *http.Client
}

// ── Commands ──

func (c *client) printQueue() error {
	var counts struct {
		Active int `json:"active"`
		Failed int `json:"failed"`
	}
	if err := c.getJSON("/api/v1/queue", &counts); err != nil {
		return err
	}
	fmt.Printf("active  %d\nfailed  %d\n", counts.Active, counts.Failed)
	return nil
}

func (c *client) printStatus() error {
	var st struct {
		Online   bool `json:"online"`
		Syncing  bool `json:"syncing"`
		LastSync *struct {
			Outcome string    `json:"outcome"`
			Synced  int       `json:"synced"`
			Failed  int       `json:"failed"`
			Pending int       `json:"pending"`
			At      time.Time `json:"at"`
		} `json:"last_sync"`
	}
	if err := c.getJSON("/api/v1/status", &st); err != nil {
		return err
	}

	fmt.Printf("online   %v\nsyncing  %v\n", st.Online, st.Syncing)
	if st.LastSync == nil {
		fmt.Println("last     no pass completed yet")
		return nil
	}
	fmt.Printf("last     %s at %s (synced %d, failed %d, pending %d)\n",
		st.LastSync.Outcome, st.LastSync.At.Local().Format(time.RFC3339),
		st.LastSync.Synced, st.LastSync.Failed, st.LastSync.Pending)
	return nil
}

func (c *client) printList() error {
	var resp struct {
		Reports []struct {
			ID      string `json:"id"`
			Payload struct {
				HazardType string `json:"hazard_type"`
				Severity   string `json:"severity"`
			} `json:"payload"`
			Media *struct {
				MIME      string `json:"mime"`
				SizeBytes int    `json:"size_bytes"`
			} `json:"media"`
			Status     string    `json:"status"`
			RetryCount int       `json:"retry_count"`
			LastError  string    `json:"last_error"`
			EnqueuedAt time.Time `json:"enqueued_at"`
		} `json:"reports"`
	}
	if err := c.getJSON("/api/v1/reports", &resp); err != nil {
		return err
	}

	if len(resp.Reports) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	fmt.Printf("%-38s %-8s %-14s %-9s %-7s %-20s %s\n",
		"ID", "STATUS", "HAZARD", "SEVERITY", "RETRIES", "ENQUEUED", "LAST ERROR")
	for _, r := range resp.Reports {
		media := ""
		if r.Media != nil {
			media = fmt.Sprintf(" [+%s %dB]", r.Media.MIME, r.Media.SizeBytes)
		}
		fmt.Printf("%-38s %-8s %-14s %-9s %-7d %-20s %s%s\n",
			r.ID, r.Status, r.Payload.HazardType, r.Payload.Severity, r.RetryCount,
			r.EnqueuedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(r.LastError, 60), media)
	}
	return nil
}

func (c *client) triggerSync() error {
	resp, err := c.http.Post(c.base+"/api/v1/sync", "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}

	var body struct {
		Accepted bool `json:"accepted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if body.Accepted {
		fmt.Println("sync triggered")
	} else {
		fmt.Println("trigger dropped: a sync pass is already running")
	}
	return nil
}

func (c *client) deleteReport(id string) error {
	req, err := http.NewRequest(http.MethodDelete, c.base+"/api/v1/reports/"+id, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	fmt.Println("deleted", id)
	return nil
}

func (c *client) requeueReport(id string) error {
	resp, err := c.http.Post(c.base+"/api/v1/reports/"+id+"/requeue", "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	fmt.Println("requeued", id)
	return nil
}

// watchEvents tails the daemon's SSE stream. Runs until the daemon closes
// the stream or the user interrupts.
func (c *client) watchEvents() error {
	// No client timeout: the stream is long-lived.
	resp, err := (&http.Client{}).Get(c.base + "/api/v1/events")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	fmt.Println("watching sync events (ctrl-c to stop)")
	sc := bufio.NewScanner(resp.Body)
	var kind string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			kind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			fmt.Printf("%-15s %s\n", kind, strings.TrimPrefix(line, "data: "))
		}
	}
	return sc.Err()
}

// ── HTTP helpers ──

func (c *client) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return fmt.Errorf("%s", resp.Status)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
