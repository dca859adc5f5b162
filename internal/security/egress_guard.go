// Package security は外部サービスとの通信と取り込みデータに関する保護機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// blockedNetworks は外部API呼び出し先として許可しないネットワーク範囲。
// safeurlはDNS解決後のIPもDialerで検証するため、ここでは設定値の静的チェックに使う。
var blockedNetworks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // メタデータIP 169.254.169.254 を含む
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, network)
	}
}

// EgressGuard は外部タスクサービスへの通信先を制限する。
// ユーザーの認証情報を送信する宛先であるため、内部ネットワークへの送信を防ぐ。
type EgressGuard struct {
	allowHTTP bool
}

// NewEgressGuard はEgressGuardを生成する。allowHTTPがfalseの場合はhttpsのみ許可する。
func NewEgressGuard(allowHTTP bool) *EgressGuard {
	return &EgressGuard{allowHTTP: allowHTTP}
}

// NewClient は内部アドレスへの接続を拒否するHTTPクライアントを生成する。
func (g *EgressGuard) NewClient(timeout time.Duration) *http.Client {
	schemes := []string{"https"}
	ports := []int{443}
	if g.allowHTTP {
		schemes = append(schemes, "http")
		ports = append(ports, 80)
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(schemes...).
		SetAllowedPorts(ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateBaseURL は外部APIのベースURLを検証する。
// DNS解決を伴わない静的な検証で、起動時の設定チェックに使う。
func (g *EgressGuard) ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "https":
	case "http":
		if !g.allowHTTP {
			return fmt.Errorf("disallowed scheme: http (https required)")
		}
	default:
		return fmt.Errorf("disallowed scheme: %q", parsed.Scheme)
	}

	if parsed.User != nil {
		return fmt.Errorf("credentials must not be embedded in URL")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("base URL must not contain query or fragment")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	if ip := net.ParseIP(host); ip != nil && isBlockedIP(ip) {
		return fmt.Errorf("blocked IP address: %s", ip)
	}

	return nil
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
