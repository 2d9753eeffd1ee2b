package activity

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

const linkProbeConnectTimeout = 5 * time.Second

func newProbeClient() *http.Client {
	dialer := &net.Dialer{Timeout: linkProbeConnectTimeout}
	return &http.Client{
		Transport: &http.Transport{
			DialContext: dialer.DialContext,
			// Self-signed peer certs are expected (§9 Open Question 2);
			// production should pin on the advertised uniqueId instead.
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		},
		// No response/body deadline: only the connect is bounded, per §5.
	}
}

// Probe issues HTTPS GET /link against host:port and parses the response
// into a PeerIdentity, per SPEC_FULL.md §4.5. ECONNREFUSED is returned
// wrapped in ErrTransportRefused (a soft failure, logged by the caller);
// other transport errors are wrapped in ErrTransportError.
func (a *Activity) Probe(ctx context.Context, host string, port int) (*PeerIdentity, error) {
	url := fmt.Sprintf("https://%s:%d/link", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}

	resp, err := a.probeClient.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return nil, fmt.Errorf("%w: %v", ErrTransportRefused, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransportError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %s", ErrTransportError, resp.Status)
	}

	var identity PeerIdentity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return nil, fmt.Errorf("%w: decoding /link response: %v", ErrTransportError, err)
	}
	return &identity, nil
}
