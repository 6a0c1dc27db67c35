// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

// Package validation wraps go-playground/validator for HTTP request structs.
//
//	type ModeRequest struct {
//		Mode string `json:"mode" validate:"required,oneof=primary hybrid secondary"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//		// verr.Error():   "mode must be one of: primary hybrid secondary"
//		// verr.Details(): {"fields":[{"field":"mode","tag":"oneof",...}]}
//	}
//
// Error field names come from json tags. The custom serverid tag accepts
// upstream server ids.
package validation
