// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

// Package models defines the attempt and vote domain types and the JSON
// request and response bodies of the API.
package models
