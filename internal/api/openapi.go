// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
)

// commandSpecYAML describes the request bodies of §6's command and
// lease endpoints. It exists purely so those endpoints get schema
// validation through kin-openapi before the handler runs; robotd does
// not generate server stubs from it (SPEC_FULL.md's DOMAIN STACK table
// drops the oapi-codegen toolchain in favor of calling kin-openapi
// directly over this embedded document).
const commandSpecYAML = `
openapi: 3.0.3
info:
  title: robotd command surface
  version: "1.0"
paths: {}
components:
  schemas:
    LeaseAcquireRequest:
      type: object
      required: [holder]
      additionalProperties: false
      properties:
        holder:
          type: string
          minLength: 1
    BaseMoveRequest:
      type: object
      additionalProperties: false
      properties:
        velocity: { type: boolean }
        frame: { type: string, enum: [global, local] }
        x: { type: number }
        y: { type: number }
        theta: { type: number }
        vx: { type: number }
        vy: { type: number }
        omega: { type: number }
    ArmMoveRequest:
      type: object
      required: [kind]
      additionalProperties: false
      properties:
        kind:
          type: string
          enum: [joint_position, cartesian_pose, joint_velocity, cartesian_velocity]
        q: { type: array, items: { type: number }, minItems: 7, maxItems: 7 }
        pose16: { type: array, items: { type: number }, minItems: 16, maxItems: 16 }
        dq: { type: array, items: { type: number }, minItems: 7, maxItems: 7 }
        vel6: { type: array, items: { type: number }, minItems: 6, maxItems: 6 }
        blocking: { type: boolean }
    GripperRequest:
      type: object
      required: [action]
      additionalProperties: false
      properties:
        action:
          type: string
          enum: [activate, move, open, close, grasp, stop, calibrate]
        raw_position: { type: integer, minimum: 0, maximum: 255 }
        width_meters: { type: number, minimum: 0 }
        speed: { type: number }
        force: { type: number }
`

// requestSchemas is loaded once at init from commandSpecYAML.
var requestSchemas *openapi3.T

func init() {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData([]byte(commandSpecYAML))
	if err != nil {
		panic("api: invalid embedded openapi document: " + err.Error())
	}
	requestSchemas = doc
}

// validateBody decodes body as JSON and validates it against the named
// component schema, returning a human-readable error on mismatch.
func validateBody(schemaName string, body []byte) error {
	ref, ok := requestSchemas.Components.Schemas[schemaName]
	if !ok || ref.Value == nil {
		return fmt.Errorf("unknown schema %q", schemaName)
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}

	if err := ref.Value.VisitJSON(decoded); err != nil {
		return err
	}
	return nil
}

// readValidatedJSON reads the request body, validates it against
// schemaName, then unmarshals it into dst. It writes a 400 response and
// returns false on any failure.
func readValidatedJSON(w http.ResponseWriter, r *http.Request, schemaName string, dst any) bool {
	body, err := readAllLimited(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := validateBody(schemaName, body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "schema validation failed: " + err.Error()})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
		return false
	}
	return true
}
