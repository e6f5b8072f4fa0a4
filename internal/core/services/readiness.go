package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arknas/backend/internal/config"
	"github.com/arknas/backend/internal/core/ports"
	"github.com/arknas/backend/internal/domain"
	"github.com/arknas/backend/internal/infrastructure/logger"
)

// HTTPProbe describes one HTTP readiness wait.
type HTTPProbe struct {
	AppName  string
	Host     string
	Port     int
	Paths    []string
	Timeout  time.Duration
	Interval time.Duration
}

// ReadinessProber decides when a started application is usable.
type ReadinessProber struct {
	runtime      ports.ContainerRuntime
	client       *http.Client
	cfg          config.ReadinessConfig
	proxyPingURL string
	log          *logger.Logger
}

func NewReadinessProber(runtime ports.ContainerRuntime, cfg config.ReadinessConfig, proxyPingURL string, log *logger.Logger) *ReadinessProber {
	return &ReadinessProber{
		runtime: runtime,
		client: &http.Client{
			// Redirects count as a live listener; never follow them.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:          cfg,
		proxyPingURL: proxyPingURL,
		log:          log,
	}
}

// Validate runs the post-start checks for app and reports which kind ran.
func (p *ReadinessProber) Validate(ctx context.Context, rep progressReporter, app domain.AppDefinition, settings domain.Integrations) (string, error) {
	rep.Log(ctx, "%s post-start validation", app.Name)
	if err := p.WaitRunning(ctx, rep, app, p.cfg.RunningTimeout); err != nil {
		return "", err
	}

	plan := app.Readiness
	switch plan.Kind {
	case domain.ReadinessRuntime:
		if err := p.PingDockerProxy(ctx, rep); err != nil {
			return "", err
		}
		return "runtime", nil
	case domain.ReadinessHTTP:
		host := plan.Host
		if host == "" {
			host = app.ContainerName
		}
		err := p.WaitHTTP(ctx, rep, HTTPProbe{
			AppName: app.Name,
			Host:    host,
			Port:    probePort(plan, settings),
			Paths:   plan.Paths,
			Timeout: plan.Timeout,
		})
		if err != nil {
			return "", err
		}
		return "http", nil
	}
	return "container", nil
}

// WaitRunning polls the container until it reports running.
func (p *ReadinessProber) WaitRunning(ctx context.Context, rep progressReporter, app domain.AppDefinition, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	interval := p.cfg.RunningPollInterval
	if interval <= 0 {
		interval = 900 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	lastState := "unknown"

	for time.Now().Before(deadline) {
		summary, err := p.runtime.FindByName(ctx, app.ContainerName)
		if err != nil {
			return upstream("find container", err)
		}
		if summary != nil {
			state, err := p.runtime.Inspect(ctx, summary.ID)
			if err != nil {
				return upstream("inspect container", err)
			}
			lastState = state.Status
			if state.Running {
				rep.Log(ctx, "%s container is running", app.Name)
				return nil
			}
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %s start timed out, container state: %s", ErrReadinessTimeout, app.Name, lastState)
}

// WaitHTTP polls every path of the probe until one answers below 500.
func (p *ReadinessProber) WaitHTTP(ctx context.Context, rep progressReporter, probe HTTPProbe) error {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = p.cfg.HTTPTimeout
	}
	interval := probe.Interval
	if interval <= 0 {
		interval = p.cfg.PollInterval
	}
	paths := probe.Paths
	if len(paths) == 0 {
		paths = []string{"/"}
	}

	deadline := time.Now().Add(timeout)
	attempt := 0
	lastErr := "unknown"

	for time.Now().Before(deadline) {
		attempt++
		for _, path := range paths {
			url := fmt.Sprintf("http://%s%s", net.JoinHostPort(probe.Host, strconv.Itoa(probe.Port)), path)
			code, err := p.get(ctx, url)
			if err == nil && code >= 200 && code < 500 {
				rep.Log(ctx, "%s readiness passed: %s -> HTTP %d (attempt %d)", probe.AppName, path, code, attempt)
				return nil
			}
			if err != nil {
				lastErr = describeProbeError(err)
			} else {
				lastErr = fmt.Sprintf("HTTP %d", code)
			}
		}
		if attempt == 1 || attempt%5 == 0 {
			rep.Log(ctx, "%s readiness pending (attempt %d), last error: %s", probe.AppName, attempt, lastErr)
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return err
		}
	}

	p.log.Warnw("readiness_http_failed", "app", probe.AppName, "attempts", attempt, "last_error", lastErr)
	return fmt.Errorf("%w: %s: %s", ErrReadinessTimeout, probe.AppName, lastErr)
}

// PingDockerProxy checks the socket proxy used by runtime-only apps.
func (p *ReadinessProber) PingDockerProxy(ctx context.Context, rep progressReporter) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.proxyPingURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDockerProxyDown, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDockerProxyDown, describeProbeError(err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := strings.TrimSpace(string(body))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || text != "OK" {
		if len(text) > 50 {
			text = text[:50]
		}
		return fmt.Errorf("%w: status=%d, body=%s", ErrDockerProxyDown, resp.StatusCode, text)
	}
	rep.Log(ctx, "docker-proxy connectivity check passed")
	return nil
}

func (p *ReadinessProber) get(ctx context.Context, url string) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (p *ReadinessProber) requestTimeout() time.Duration {
	if p.cfg.RequestTimeout <= 0 {
		return 3 * time.Second
	}
	return p.cfg.RequestTimeout
}

func probePort(plan domain.ReadinessPlan, settings domain.Integrations) int {
	if plan.Port > 0 {
		return plan.Port
	}
	return settings.Int(plan.PortKey, 0)
}

func describeProbeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
