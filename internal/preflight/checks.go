package preflight

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"tollgate/internal/config"
	"tollgate/internal/services"
	"tollgate/internal/services/publisher"
)

const bytesPerGB = 1 << 30

// CheckPublisher verifies that the publishing API is reachable and the key is
// valid. It uses a 30-second timeout and a single request.
func CheckPublisher(ctx context.Context, cfg *config.Config) Result {
	const name = "Publishing API"

	if cfg.Publisher.BaseURL == "" {
		return Result{Name: name, Detail: "missing url"}
	}
	if cfg.Publisher.APIKey == "" {
		return Result{Name: name, Detail: "missing api key"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client := publisher.NewClient(publisher.ConfigFromConfig(cfg))
	if err := client.HealthCheck(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizePublisherError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the volume holding path has at least minGB free.
func CheckFreeSpace(name, path string, minGB float64) Result {
	freeGB, err := FreeGB(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	if freeGB < minGB {
		return Result{Name: name, Detail: fmt.Sprintf("%.1f GB free, need %.1f GB", freeGB, minGB)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%.1f GB free", freeGB)}
}

// FreeGB returns the space available to unprivileged users on path's volume.
func FreeGB(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return float64(stat.Bavail) * float64(stat.Bsize) / bytesPerGB, nil
}

// CheckPublisherFromConfig reports "Disabled" rather than failing when no
// publishing endpoint is configured.
func CheckPublisherFromConfig(ctx context.Context, cfg *config.Config) Result {
	if cfg == nil {
		return Result{Name: "Publishing API", Detail: "Unknown"}
	}
	if cfg.Publisher.BaseURL == "" {
		return Result{Name: "Publishing API", Passed: true, Detail: "Disabled"}
	}
	return CheckPublisher(ctx, cfg)
}

func summarizePublisherError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (publishing API unresponsive)"
	}
	var transportErr *publisher.TransportError
	if errors.As(err, &transportErr) && transportErr.TimedOut {
		return "health check timed out (publishing API unreachable)"
	}
	if publisher.IsStatus(err, http.StatusUnauthorized) || publisher.IsStatus(err, http.StatusForbidden) {
		return "auth failed (invalid api key)"
	}
	if errors.Is(err, services.ErrTransient) {
		return fmt.Sprintf("unavailable (%v)", err)
	}
	return err.Error()
}
