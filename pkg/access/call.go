package access

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/classify"
	"github.com/goliatone/go-apiaccess/pkg/config"
	"github.com/goliatone/go-apiaccess/pkg/interfaces/logger"
	"github.com/goliatone/go-apiaccess/pkg/retry"
	"github.com/goliatone/go-apiaccess/pkg/secrets"
)

// Call describes one request against a configured service. Query is placed
// in the service's query parameter; Params are added as extra query values.
// Every value is sanitized with the service allow-list.
type Call struct {
	Service        string
	Method         string
	Target         string
	Query          string
	Params         map[string]string
	Body           []byte
	IdempotencyKey string
}

// CallAPI sanitizes rawParams, authenticates against service, sends the
// request with retry, and classifies the response. An empty rawParams sends
// no query parameter.
func (g *Gateway) CallAPI(ctx context.Context, service, method, target, rawParams string) classify.Result {
	return g.Call(ctx, Call{
		Service: service,
		Method:  method,
		Target:  target,
		Query:   rawParams,
	})
}

// Call runs c. Failures of any step are returned as a failed Result; the
// Result never carries secret material.
func (g *Gateway) Call(ctx context.Context, c Call) classify.Result {
	requestID := g.newID()
	start := g.now()
	log := g.logger.With(
		logger.Field{Key: "service", Value: c.Service},
		logger.Field{Key: "request_id", Value: requestID},
	)

	res, svc := g.call(ctx, c, requestID)
	res.RequestID = requestID

	if res.Kind() == apierror.KindAuthentication && svc.Auth.Mode == config.AuthOAuth2 {
		g.tokens.Invalidate(svc.Auth.Authority, svc.Auth.Scope)
		log.Info("cached token dropped after authentication failure")
	}

	outcome := "success"
	if !res.OK() {
		outcome = string(res.Kind())
	}
	g.metrics.Record("access.call", map[string]string{
		"service": serviceKey(c.Service),
		"outcome": outcome,
	})
	fields := []logger.Field{
		{Key: "status", Value: res.Status},
		{Key: "attempts", Value: res.Attempts},
		{Key: "elapsed", Value: g.now().Sub(start)},
	}
	if res.OK() {
		log.Info("api call succeeded", fields...)
	} else {
		log.Warn("api call failed", append(fields, logger.Field{Key: "error", Value: res.Err.Error()})...)
	}
	return res
}

func (g *Gateway) call(ctx context.Context, c Call, requestID string) (classify.Result, config.ServiceConfig) {
	svc, sanitizer, err := g.lookup(c.Service)
	if err != nil {
		return classify.Failure(err), svc
	}

	query := url.Values{}
	if c.Query != "" {
		in, err := sanitizer.Sanitize(c.Query)
		if err != nil {
			return classify.Failure(err), svc
		}
		query.Set(svc.QueryParam, in.String())
	}
	if len(c.Params) > 0 {
		inputs, err := sanitizer.SanitizeAll(c.Params)
		if err != nil {
			return classify.Failure(err), svc
		}
		names := make([]string, 0, len(inputs))
		for name := range inputs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			query.Set(name, inputs[name].String())
		}
	}

	target, err := resolveTarget(svc.BaseURL, c.Target, query)
	if err != nil {
		return classify.Failure(err), svc
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set(RequestIDHeader, requestID)
	if len(c.Body) > 0 {
		header.Set("Content-Type", "application/json")
	}
	if err := g.authorize(ctx, svc, header); err != nil {
		return classify.Failure(err), svc
	}

	resp, err := g.executor.Execute(ctx, &retry.Request{
		Method:         c.Method,
		URL:            target,
		Header:         header,
		Body:           c.Body,
		IdempotencyKey: c.IdempotencyKey,
	}, retry.FromConfig(g.cfg.RetryFor(svc)))
	if err != nil {
		return classify.Failure(err), svc
	}
	return classify.Classify(resp), svc
}

// resolveTarget joins target onto base. Absolute targets are accepted only
// on the base host and path, and relative ones may not climb above the base path.
func resolveTarget(base, target string, query url.Values) (string, error) {
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil || baseURL.Host == "" {
		return "", apierror.New(apierror.KindConfig, "service base url is invalid")
	}
	t, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return "", apierror.Wrap(apierror.KindRequest, err, "invalid target")
	}

	basePath := strings.TrimRight(baseURL.Path, "/")
	var out *url.URL
	if t.IsAbs() {
		if !strings.EqualFold(t.Host, baseURL.Host) || t.Scheme != baseURL.Scheme {
			return "", apierror.New(apierror.KindRequest, "target host %s is not the service host", t.Host)
		}
		if !withinBase(basePath, path.Clean("/"+t.Path)) {
			return "", apierror.New(apierror.KindRequest, "target escapes the service base path")
		}
		out = t
	} else {
		joined := path.Join("/", basePath, t.Path)
		if t.Path == "" {
			joined = baseURL.Path
		}
		if !withinBase(basePath, joined) {
			return "", apierror.New(apierror.KindRequest, "target escapes the service base path")
		}
		out = &url.URL{
			Scheme:   baseURL.Scheme,
			Host:     baseURL.Host,
			Path:     joined,
			RawQuery: t.RawQuery,
		}
	}

	if len(query) > 0 {
		merged := out.Query()
		for k, values := range query {
			merged[k] = values
		}
		out.RawQuery = merged.Encode()
	}
	return out.String(), nil
}

func withinBase(basePath, p string) bool {
	return basePath == "" || p == basePath || strings.HasPrefix(p, basePath+"/")
}

func isNotFound(err error) bool {
	return errors.Is(err, secrets.ErrNotFound)
}
