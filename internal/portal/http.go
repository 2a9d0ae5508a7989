// =============================================================================
// SRI Receipts - HTTP Portal Session
// =============================================================================
//
// HTTPSession implements Session over a cookie-jar HTTP client. The portal
// is a server-rendered JSF application, so every interaction is a page load
// or a form postback:
//
//   1. Login          : GET the login page, POST the login form. The portal
//                       may show the form a second time (without the
//                       additional id field); it is submitted once more.
//   2. Query page     : GET the issued/received query page directly.
//   3. Filters        : POST the JSF form with the filter fields and the
//                       query button.
//   4. Challenge      : when the response shows a challenge, block on the
//                       ChallengeSolver and resubmit with its response.
//   5. Listing        : rows, download links and the paginator "next"
//                       control are read with CSS selectors.
//   6. Next page      : POST the form with the table's paginator fields.
//   7. Download       : plain links are fetched; JSF command links are
//                       posted back with the link id as request parameter.
//
// Network failures and 5xx responses are retried with exponential backoff.
//
// =============================================================================

package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/net/publicsuffix"

	"github.com/ginjaninja78/sri-receipts/internal/config"
)

// HTTPOptions configures an HTTPSession.
type HTTPOptions struct {
	// Portal holds endpoints, selectors, timeouts and retry settings.
	Portal config.PortalConfig

	// Solver answers manual challenges. Required for listings that show one.
	Solver ChallengeSolver

	// Logger receives session events.
	Logger zerolog.Logger

	// Client overrides the HTTP client. Its Jar must be set.
	Client *http.Client
}

// HTTPSession talks to the portal over HTTP.
type HTTPSession struct {
	cfg    config.PortalConfig
	base   *url.URL
	client *http.Client
	solver ChallengeSolver
	log    zerolog.Logger

	state   State
	mode    Mode
	listing config.ListingConfig
	form    *jsfForm
	page    int
}

// NewHTTPSession creates a logged-out session.
func NewHTTPSession(opts HTTPOptions) (*HTTPSession, error) {
	base, err := url.Parse(opts.Portal.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	client := opts.Client
	if client == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		client = &http.Client{
			Jar:     jar,
			Timeout: opts.Portal.RequestTimeout,
		}
	}

	return &HTTPSession{
		cfg:    opts.Portal,
		base:   base,
		client: client,
		solver: opts.Solver,
		log:    opts.Logger,
		state:  StateLoggedOut,
	}, nil
}

// State implements Session.
func (s *HTTPSession) State() State {
	return s.state
}

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

// Login implements Session.
func (s *HTTPSession) Login(ctx context.Context, creds Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}

	doc, pageURL, err := s.load(ctx, http.MethodGet, s.resolve(s.cfg.LoginPath), nil)
	if err != nil {
		return fmt.Errorf("%w: load login page: %v", ErrNavigation, err)
	}

	// The portal may render the login form twice; the second one has no
	// additional id field.
	for attempt := 0; attempt < 2; attempt++ {
		form, err := s.loginForm(doc, pageURL)
		if err != nil {
			if attempt == 0 {
				return err
			}
			break
		}

		form.Values.Set(s.cfg.Login.UserField, creds.RUC)
		form.Values.Set(s.cfg.Login.PasswordField, creds.Password)
		if s.cfg.Login.AdditionalIDField != "" && creds.AdditionalID != "" && form.has(s.cfg.Login.AdditionalIDField) {
			form.Values.Set(s.cfg.Login.AdditionalIDField, creds.AdditionalID)
		}

		doc, pageURL, err = s.load(ctx, http.MethodPost, form.Action, form.Values)
		if err != nil {
			return fmt.Errorf("%w: submit login form: %v", ErrNavigation, err)
		}
	}

	if s.showsLoginForm(doc) {
		feedback := strings.TrimSpace(doc.Find(".kc-feedback-text, #input-error, .alert-error").First().Text())
		if feedback == "" {
			feedback = "credentials rejected"
		}
		return fmt.Errorf("%w: %s", ErrLogin, feedback)
	}

	s.state = StateReady
	s.log.Info().Str("ruc", creds.RUC).Msg("Logged in")
	return nil
}

// Logout implements Session.
func (s *HTTPSession) Logout(ctx context.Context) error {
	if s.state == StateLoggedOut {
		return nil
	}
	s.state = StateLoggedOut
	s.form = nil

	resp, err := s.do(ctx, http.MethodGet, s.resolve(s.cfg.LogoutPath), nil)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	resp.Body.Close()

	s.log.Info().Msg("Logged out")
	return nil
}

func (s *HTTPSession) loginForm(doc *goquery.Document, pageURL string) (*jsfForm, error) {
	form, err := parseForm(doc, s.cfg.Login.FormSelector, pageURL)
	if err == nil {
		return form, nil
	}

	// Fall back to whichever form holds the password field.
	sel := doc.Find(fmt.Sprintf("input[name='%s']", s.cfg.Login.PasswordField)).Closest("form")
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: login form not found", ErrNavigation)
	}
	return formFromSelection(sel.First(), pageURL)
}

func (s *HTTPSession) showsLoginForm(doc *goquery.Document) bool {
	return doc.Find(fmt.Sprintf("input[name='%s']", s.cfg.Login.PasswordField)).Length() > 0
}

// =============================================================================
// LISTING
// =============================================================================

// ApplyFilters implements Session.
func (s *HTTPSession) ApplyFilters(ctx context.Context, criteria Criteria) (*Listing, error) {
	if s.state == StateLoggedOut {
		return nil, fmt.Errorf("%w: not logged in", ErrNavigation)
	}
	if err := criteria.Validate(); err != nil {
		return nil, err
	}

	s.mode = criteria.Mode()
	switch s.mode {
	case ModeIssued:
		s.listing = s.cfg.Issued
	case ModeReceived:
		s.listing = s.cfg.Received
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidCriteria, s.mode)
	}

	doc, pageURL, err := s.load(ctx, http.MethodGet, s.resolve(s.listing.Path), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s query page: %v", ErrNavigation, s.mode, err)
	}

	doc, pageURL, err = s.submitQuery(ctx, doc, pageURL, criteria, "")
	if err != nil {
		return nil, err
	}

	if challenge, shown := s.detectChallenge(doc, pageURL); shown {
		s.state = StateAwaitingManualInput
		s.log.Warn().Str("page", pageURL).Dur("timeout", s.cfg.ChallengeTimeout).Msg("Awaiting manual challenge")

		response, err := AwaitChallenge(ctx, s.solver, challenge, s.cfg.ChallengeTimeout)
		if err != nil {
			return nil, err
		}

		doc, pageURL, err = s.submitQuery(ctx, doc, pageURL, criteria, response)
		if err != nil {
			return nil, err
		}
		if _, shown := s.detectChallenge(doc, pageURL); shown {
			return nil, fmt.Errorf("%w: challenge response rejected", ErrNavigation)
		}
		s.log.Info().Msg("Challenge solved")
	}

	s.page = 1
	listing, err := s.readListing(doc, pageURL)
	if err != nil {
		return nil, err
	}
	s.state = StateListing
	return listing, nil
}

// NextPage implements Session.
func (s *HTTPSession) NextPage(ctx context.Context) (*Listing, error) {
	if s.state != StateListing || s.form == nil {
		return nil, fmt.Errorf("%w: no listing loaded", ErrNavigation)
	}

	table := s.listing.TableID
	pageSize := s.listing.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	values := s.form.clone()
	values.Set(table+"_pagination", "true")
	values.Set(table+"_first", strconv.Itoa(s.page*pageSize))
	values.Set(table+"_rows", strconv.Itoa(pageSize))
	values.Set(table+"_encodeFeature", "true")

	doc, pageURL, err := s.load(ctx, http.MethodPost, s.form.Action, values)
	if err != nil {
		return nil, fmt.Errorf("%w: load page %d: %v", ErrNavigation, s.page+1, err)
	}

	s.page++
	return s.readListing(doc, pageURL)
}

func (s *HTTPSession) submitQuery(ctx context.Context, doc *goquery.Document, pageURL string, criteria Criteria, challengeResponse string) (*goquery.Document, string, error) {
	form, err := parseForm(doc, s.listing.FormSelector, pageURL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s query form: %v", ErrNavigation, s.mode, err)
	}

	for logical, value := range criteria.Values() {
		field := s.listing.Fields[logical]
		if field == "" {
			continue
		}
		form.Values.Set(field, value)
	}
	if challengeResponse != "" {
		form.Values.Set(s.listing.ChallengeField, challengeResponse)
	}

	name, value, ok := form.button(s.listing.SubmitLabel)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q button not found", ErrNavigation, s.listing.SubmitLabel)
	}
	form.Values.Set(name, value)

	doc, pageURL, err = s.load(ctx, http.MethodPost, form.Action, form.Values)
	if err != nil {
		return nil, "", fmt.Errorf("%w: submit %s query: %v", ErrNavigation, s.mode, err)
	}
	return doc, pageURL, nil
}

func (s *HTTPSession) detectChallenge(doc *goquery.Document, pageURL string) (Challenge, bool) {
	if s.listing.ChallengeSelector == "" {
		return Challenge{}, false
	}
	sel := doc.Find(s.listing.ChallengeSelector)
	if sel.Length() == 0 {
		return Challenge{}, false
	}
	return Challenge{
		PageURL: pageURL,
		SiteKey: sel.First().AttrOr("data-sitekey", ""),
	}, true
}

// readListing extracts the current page and remembers its form for the
// following postbacks.
func (s *HTTPSession) readListing(doc *goquery.Document, pageURL string) (*Listing, error) {
	listing := ParseListing(doc, s.listing)
	listing.Page = s.page

	form, err := parseForm(doc, s.listing.FormSelector, pageURL)
	if err != nil {
		if listing.Message != "" {
			// A message page may replace the form entirely.
			s.form = nil
			return listing, nil
		}
		return nil, fmt.Errorf("%w: results form: %v", ErrNavigation, err)
	}
	s.form = form

	s.log.Debug().
		Int("page", listing.Page).
		Int("rows", len(listing.Rows)).
		Stringer("next", listing.Next).
		Msg("Listing page loaded")
	return listing, nil
}

// ParseListing reads rows, the informational message and the paginator
// signal from a results page.
func ParseListing(doc *goquery.Document, lc config.ListingConfig) *Listing {
	listing := &Listing{}

	if lc.MessageSelector != "" {
		listing.Message = normalizeSpace(doc.Find(lc.MessageSelector).First().Text())
	}

	rows := doc.Find(fmt.Sprintf("[id='%s_data'] > tr", lc.TableID))
	rows.Each(func(i int, tr *goquery.Selection) {
		if tr.HasClass("ui-datatable-empty-message") {
			return
		}

		var cells []string
		tr.Children().Filter("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, normalizeSpace(td.Text()))
		})

		link := tr.Find(fmt.Sprintf("td:nth-child(%d) a", lc.DownloadColumn)).First()
		listing.Rows = append(listing.Rows, NewRow(
			len(listing.Rows),
			cells,
			link.AttrOr("id", ""),
			link.AttrOr("href", ""),
		))
	})

	listing.Next = nextSignal(doc.Find(fmt.Sprintf("[id='%s_paginator_bottom'] .ui-paginator-next", lc.TableID)))
	return listing
}

func nextSignal(sel *goquery.Selection) NextSignal {
	if sel.Length() != 1 {
		return NextUnknown
	}
	if _, ok := sel.Attr("class"); !ok {
		return NextUnknown
	}
	if sel.HasClass("ui-state-disabled") {
		return NextDisabled
	}
	return NextEnabled
}

// =============================================================================
// DOWNLOAD
// =============================================================================

// RequestDownload implements Session.
func (s *HTTPSession) RequestDownload(ctx context.Context, row Row) (io.ReadCloser, error) {
	var (
		resp *http.Response
		err  error
	)

	switch {
	case isFollowableHref(row.Href):
		resp, err = s.do(ctx, http.MethodGet, s.resolveFrom(s.form, row.Href), nil)
	case row.LinkID != "" && s.form != nil:
		values := s.form.clone()
		values.Set(row.LinkID, row.LinkID)
		resp, err = s.do(ctx, http.MethodPost, s.form.Action, values)
	default:
		return nil, fmt.Errorf("%w: row %d has no download link", ErrDownload, row.Index+1)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}

	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrDownload, resp.Status)
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType == "text/html" {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: portal returned a page instead of a document", ErrDownload)
	}

	return resp.Body, nil
}

func isFollowableHref(href string) bool {
	href = strings.TrimSpace(href)
	return href != "" && href != "#" && !strings.HasPrefix(strings.ToLower(href), "javascript:")
}

// =============================================================================
// TRANSPORT
// =============================================================================

// load performs a request and parses the HTML response.
func (s *HTTPSession) load(ctx context.Context, method, target string, form url.Values) (*goquery.Document, string, error) {
	resp, err := s.do(ctx, method, target, form)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("parse page: %w", err)
	}
	return doc, resp.Request.URL.String(), nil
}

// do sends a request, retrying network errors and 5xx responses.
func (s *HTTPSession) do(ctx context.Context, method, target string, form url.Values) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := s.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}

		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		if s.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", s.cfg.UserAgent)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			s.log.Debug().Err(err).Int("attempt", attempt+1).Str("url", target).Msg("Request failed")
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			s.log.Debug().Int("status", resp.StatusCode).Int("attempt", attempt+1).Str("url", target).Msg("Server error")
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

func (s *HTTPSession) backoff(ctx context.Context, attempt int) error {
	delay := s.cfg.RetryBackoff << (attempt - 1)
	if s.cfg.RetryMaxBackoff > 0 && (delay > s.cfg.RetryMaxBackoff || delay <= 0) {
		delay = s.cfg.RetryMaxBackoff
	}
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *HTTPSession) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return s.base.String() + path
	}
	return s.base.ResolveReference(ref).String()
}

func (s *HTTPSession) resolveFrom(form *jsfForm, href string) string {
	if form == nil {
		return s.resolve(href)
	}
	base, err := url.Parse(form.Action)
	if err != nil {
		return s.resolve(href)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return s.resolve(href)
	}
	return base.ResolveReference(ref).String()
}

// =============================================================================
// FORMS
// =============================================================================

// jsfForm is a parsed HTML form: its absolute action and current values,
// including hidden state such as javax.faces.ViewState.
type jsfForm struct {
	Action string
	Values url.Values
	sel    *goquery.Selection
}

var errFormNotFound = errors.New("form not found")

func parseForm(doc *goquery.Document, selector, pageURL string) (*jsfForm, error) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%w: %s", errFormNotFound, selector)
	}
	return formFromSelection(sel, pageURL)
}

func formFromSelection(sel *goquery.Selection, pageURL string) (*jsfForm, error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	action, err := url.Parse(sel.AttrOr("action", ""))
	if err != nil {
		return nil, fmt.Errorf("parse form action: %w", err)
	}

	form := &jsfForm{
		Action: page.ResolveReference(action).String(),
		Values: url.Values{},
		sel:    sel,
	}

	sel.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name := in.AttrOr("name", "")
		switch strings.ToLower(in.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); !checked {
				return
			}
			form.Values.Add(name, in.AttrOr("value", "on"))
		default:
			form.Values.Add(name, in.AttrOr("value", ""))
		}
	})

	sel.Find("select[name]").Each(func(_ int, sl *goquery.Selection) {
		option := sl.Find("option[selected]").First()
		if option.Length() == 0 {
			option = sl.Find("option").First()
		}
		if option.Length() == 0 {
			return
		}
		value, ok := option.Attr("value")
		if !ok {
			value = normalizeSpace(option.Text())
		}
		form.Values.Set(sl.AttrOr("name", ""), value)
	})

	sel.Find("textarea[name]").Each(func(_ int, ta *goquery.Selection) {
		form.Values.Set(ta.AttrOr("name", ""), ta.Text())
	})

	return form, nil
}

// has reports whether the form renders a control with the given name.
func (f *jsfForm) has(name string) bool {
	return f.sel.Find(fmt.Sprintf("[name='%s']", name)).Length() > 0
}

// button finds the submit control whose label contains label.
func (f *jsfForm) button(label string) (string, string, bool) {
	var name, value string
	found := false

	f.sel.Find("button, input[type='submit']").EachWithBreak(func(_ int, b *goquery.Selection) bool {
		text := normalizeSpace(b.Text())
		if goquery.NodeName(b) == "input" {
			text = b.AttrOr("value", "")
		}
		if !strings.Contains(strings.ToLower(text), strings.ToLower(label)) {
			return true
		}

		name = b.AttrOr("name", b.AttrOr("id", ""))
		value = b.AttrOr("value", name)
		found = name != ""
		return !found
	})

	return name, value, found
}

func (f *jsfForm) clone() url.Values {
	values := url.Values{}
	for k, v := range f.Values {
		values[k] = append([]string(nil), v...)
	}
	return values
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
