package ctxutil

import "context"

type requestDataKey struct{}

// RequestData is filled by the HTTP middleware. ProfileID and AccessToken
// stay empty for anonymous requests.
type RequestData struct {
	RequestID   string
	ProfileID   string
	AccessToken string
	Locale      string
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	if ctx == nil {
		return nil
	}
	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		return rd
	}
	return nil
}

// AccessToken returns the caller's bearer token, if any. Backends that
// forward identity (PostgREST) read it from here.
func AccessToken(ctx context.Context) string {
	if rd := GetRequestData(ctx); rd != nil {
		return rd.AccessToken
	}
	return ""
}

func RequestID(ctx context.Context) string {
	if rd := GetRequestData(ctx); rd != nil {
		return rd.RequestID
	}
	return ""
}
