package harness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const serviceStatusRetryInterval = time.Millisecond * 100

// AwaitServiceReady polls url until the mock service answers with any non-5xx status, giving up
// after timeout. Progress dots are written to output.
func AwaitServiceReady(ctx context.Context, url string, timeout time.Duration, output io.Writer) error {
	fmt.Fprintf(output, "Connecting to mock service at %s", url)

	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: timeout}
	for {
		fmt.Fprintf(output, ".")
		status, err := queryServiceStatus(ctx, client, url)
		if err == nil && status < 500 {
			fmt.Fprintln(output)
			return nil
		}
		if err == nil {
			err = fmt.Errorf("mock service returned status code %d", status)
		}
		if ctx.Err() != nil {
			fmt.Fprintln(output)
			return ctx.Err()
		}
		if !time.Now().Before(deadline) {
			fmt.Fprintln(output)
			return fmt.Errorf("timed out, result of last query was: %w", err)
		}
		select {
		case <-ctx.Done():
		case <-time.After(serviceStatusRetryInterval):
		}
	}
}

func queryServiceStatus(ctx context.Context, client *http.Client, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
