package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
)

// Pinger is the slice of a storage backend the readiness check needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckHTTP returns a [Checker] that probes url with a GET request. Any
// response, including an error status, counts as reachable; local model
// servers answer 404 on their root path while healthy.
func CheckHTTP(name, url string) Checker {
	client := &http.Client{}
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("build request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("unreachable: %w", err)
			}
			resp.Body.Close()
			return nil
		},
	}
}

// CheckFile returns a [Checker] that verifies a model file exists and is not
// a directory.
func CheckFile(name, path string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if info.IsDir() {
				return fmt.Errorf("%s is a directory, expected a model file", path)
			}
			return nil
		},
	}
}

// CheckPinger returns a [Checker] that pings a storage backend.
func CheckPinger(name string, p Pinger) Checker {
	return Checker{
		Name:  name,
		Check: p.Ping,
	}
}
