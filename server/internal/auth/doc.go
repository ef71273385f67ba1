// Package auth provides authentication middleware for the WebSocket server.
//
// APIKey(mode, header, key) wraps an http.Handler and validates the API key
// from the named request header, or from the api_key query parameter for
// browser clients that cannot set headers on the upgrade request.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent,
// the middleware responds 401 before the handler runs.
package auth
