package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/force-client/pkg/session"
	"github.com/Sternrassler/force-client/pkg/transport"
)

// SOAP API flavours.
const (
	APITypePartner    = "partner"
	APITypeEnterprise = "enterprise"
)

const nsEnvelope = "http://schemas.xmlsoap.org/soap/envelope/"

// ErrLogoutUnsupported is returned by Logout for non-enterprise API types.
var ErrLogoutUnsupported = fmt.Errorf("logout is only available for the %s API", APITypeEnterprise)

// SOAPConfig configures the SOAP login collaborator.
type SOAPConfig struct {
	// LoginURL hosts the SOAP endpoint.
	LoginURL string

	// Version is the API version, e.g. "23.0".
	Version string

	// APIType is APITypePartner or APITypeEnterprise.
	APIType string
}

// SOAP performs the legacy username/password login over the SOAP API.
type SOAP struct {
	transport transport.Transport
	config    SOAPConfig
	logger    zerolog.Logger
}

// NewSOAP creates the SOAP collaborator. Requests go through t without
// session credentials.
func NewSOAP(t transport.Transport, cfg SOAPConfig, logger zerolog.Logger) *SOAP {
	cfg.LoginURL = strings.TrimRight(cfg.LoginURL, "/")
	if cfg.LoginURL == "" {
		cfg.LoginURL = DefaultLoginURL
	}
	if cfg.APIType == "" {
		cfg.APIType = APITypePartner
	}
	return &SOAP{transport: t, config: cfg, logger: logger}
}

// Endpoint returns <login>/services/Soap/<u|c>/<version>.
func (s *SOAP) Endpoint() string {
	typeSegment := "u"
	if s.config.APIType == APITypeEnterprise {
		typeSegment = "c"
	}
	return strings.Join([]string{s.config.LoginURL, "services/Soap", typeSegment, s.config.Version}, "/")
}

// LoginResult is the outcome of a SOAP login.
type LoginResult struct {
	SessionID         string
	ServerURL         string
	MetadataServerURL string
	PasswordExpired   bool
	UserInfo          session.UserInfo
}

// State converts the result into a session state. The server URL is split
// into the instance URL (scheme://host) and the remaining server path.
func (r *LoginResult) State() (session.State, error) {
	u, err := url.Parse(r.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return session.State{}, fmt.Errorf("invalid server url %q", r.ServerURL)
	}
	info := r.UserInfo
	return session.State{
		AccessToken:       r.SessionID,
		InstanceURL:       u.Scheme + "://" + u.Host,
		ServerPath:        strings.TrimPrefix(u.Path, "/"),
		MetadataServerURL: r.MetadataServerURL,
		PasswordExpired:   r.PasswordExpired,
		UserInfo:          &info,
	}, nil
}

func (s *SOAP) namespace() string {
	return "urn:" + s.config.APIType + ".soap.sforce.com"
}

// Login authenticates with username and password.
func (s *SOAP) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	doc := etree.NewDocument()
	env := doc.CreateElement("se:Envelope")
	env.CreateAttr("xmlns:se", nsEnvelope)
	header := env.CreateElement("se:Header")
	header.CreateAttr("xmlns:sfns", s.namespace())
	body := env.CreateElement("se:Body")
	login := body.CreateElement("login")
	login.CreateAttr("xmlns", s.namespace())
	login.CreateAttr("xmlns:ns1", "sobject."+s.config.APIType+".soap.sforce.com")
	login.CreateElement("username").SetText(username)
	login.CreateElement("password").SetText(password)

	respDoc, err := s.call(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("soap login: %w", err)
	}

	result := &LoginResult{
		SessionID:         findText(respDoc, "sessionId"),
		ServerURL:         findText(respDoc, "serverUrl"),
		MetadataServerURL: findText(respDoc, "metadataServerUrl"),
		PasswordExpired:   findText(respDoc, "passwordExpired") == "true",
		UserInfo: session.UserInfo{
			UserID:           findText(respDoc, "userId"),
			UserFullName:     findText(respDoc, "userFullName"),
			RoleID:           findText(respDoc, "roleId"),
			ProfileID:        findText(respDoc, "profileId"),
			UserType:         findText(respDoc, "userType"),
			OrganizationName: findText(respDoc, "organizationName"),
		},
	}
	if result.SessionID == "" || result.ServerURL == "" {
		return nil, fmt.Errorf("soap login: response carries no session")
	}

	s.logger.Info().
		Str("user_id", result.UserInfo.UserID).
		Str("organization", result.UserInfo.OrganizationName).
		Msg("SOAP login succeeded")
	return result, nil
}

// Logout invalidates sessionID. Only the enterprise API supports it.
func (s *SOAP) Logout(ctx context.Context, sessionID string) error {
	if s.config.APIType != APITypeEnterprise {
		return ErrLogoutUnsupported
	}

	doc := etree.NewDocument()
	env := doc.CreateElement("se:Envelope")
	env.CreateAttr("xmlns:se", nsEnvelope)
	env.CreateAttr("xmlns:urn", s.namespace())
	sessionHeader := env.CreateElement("se:Header").CreateElement("urn:SessionHeader")
	sessionHeader.CreateElement("urn:sessionId").SetText(sessionID)
	env.CreateElement("se:Body").CreateElement("urn:logout")

	if _, err := s.call(ctx, doc); err != nil {
		return fmt.Errorf("soap logout: %w", err)
	}
	s.logger.Info().Msg("SOAP logout succeeded")
	return nil
}

func (s *SOAP) call(ctx context.Context, doc *etree.Document) (*etree.Document, error) {
	payload, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	req := &transport.Request{
		Method: http.MethodPost,
		URL:    s.Endpoint(),
		Header: http.Header{
			"Content-Type": []string{"text/xml"},
			"Soapaction":   []string{`""`},
		},
		Body: payload,
	}
	resp, err := s.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	respDoc := etree.NewDocument()
	parseErr := respDoc.ReadFromBytes(resp.Body)

	if resp.StatusCode >= 400 {
		fault := &FaultError{StatusCode: resp.StatusCode, Message: string(resp.Body)}
		if parseErr == nil {
			if msg := findText(respDoc, "faultstring"); msg != "" {
				fault.Code = findText(respDoc, "faultcode")
				fault.Message = msg
			}
		}
		return nil, fault
	}
	if parseErr != nil {
		return nil, fmt.Errorf("decode response: %w", parseErr)
	}
	return respDoc, nil
}

func findText(doc *etree.Document, name string) string {
	el := doc.FindElement("//*[local-name()='" + name + "']")
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.Text())
}

// FaultError is a SOAP fault or any other error status from the endpoint.
type FaultError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("soap fault %s (status %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("soap error (status %d): %s", e.StatusCode, e.Message)
}
