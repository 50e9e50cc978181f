// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

/*
Package middleware provides HTTP middleware and helper functions.

# Request Logging

	r.Use(middleware.WithLogging(logger))

Logs one line per request with method, path, status, bytes, duration and
the chi request id.

# CORS Middleware

Allows GET, POST and OPTIONS with Content-Type, Authorization and
If-None-Match, and exposes ETag and Retry-After to browsers.

# JSON Helpers

	middleware.JSONResponse(w, http.StatusOK, data)
	middleware.ErrorResponse(w, http.StatusBadRequest, "message")

ParseJSONBody rejects unknown fields, trailing data and bodies over 64 KiB.

# Client IP Extraction

	ip := middleware.GetClientIP(r, cfg.TrustProxy)

The result keys the per-origin rate limit and is hashed before storage.

# Operator Authentication

RequireOperator checks the bearer token; Operator reads the name it carried.
*/
package middleware
