package api

import (
	"sort"

	"github.com/mattjoyce/runnerd/internal/catalog"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the runner API. The
// start request's definition field is constrained to the loaded definitions.
func buildOpenAPIDoc(defs []*catalog.Definition) map[string]any {
	names := make([]string, 0, len(defs))
	eventSet := map[string]struct{}{}
	for _, d := range defs {
		names = append(names, d.Name)
		for _, e := range d.Events {
			eventSet[e] = struct{}{}
		}
	}
	sort.Strings(names)
	eventNames := make([]string, 0, len(eventSet))
	for e := range eventSet {
		eventNames = append(eventNames, e)
	}
	sort.Strings(eventNames)

	definitionSchema := map[string]any{"type": "string"}
	if len(names) > 0 {
		definitionSchema["enum"] = names
	}
	eventNameSchema := map[string]any{"type": "string"}
	if len(eventNames) > 0 {
		eventNameSchema["examples"] = eventNames
	}

	runnerID := []any{map[string]any{
		"name":     "runnerID",
		"in":       "path",
		"required": true,
		"schema":   map[string]any{"type": "string"},
	}}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "runnerd",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/runners": map[string]any{
				"get": operation("listRunners", "List active and retained runners", nil, "200"),
				"post": withBody(operation("startRunner", "Start a runner from a definition", nil, "202", "400", "404", "503"),
					map[string]any{
						"type":     "object",
						"required": []string{"definition"},
						"properties": map[string]any{
							"definition": definitionSchema,
							"input":      map[string]any{},
							"timeout":    map[string]any{"type": "string", "description": "Go duration, e.g. 30s"},
						},
					}),
			},
			"/runners/{runnerID}": map[string]any{
				"get": operation("getRunner", "Runner status and output", runnerID, "200", "404"),
			},
			"/runners/{runnerID}/cancel": map[string]any{
				"post": operation("cancelRunner", "Kill a running runner", runnerID, "202", "404"),
			},
			"/runners/{runnerID}/event": map[string]any{
				"post": withBody(operation("sendEvent", "Deliver an external event", runnerID, "202", "400", "404"),
					map[string]any{
						"type":     "object",
						"required": []string{"name"},
						"properties": map[string]any{
							"name":    eventNameSchema,
							"payload": map[string]any{},
						},
					}),
			},
			"/runners/{runnerID}/refresh-output": map[string]any{
				"post": operation("refreshOutput", "Flush buffered runner output", runnerID, "202", "404"),
			},
			"/definitions": map[string]any{
				"get": operation("listDefinitions", "List loaded runner definitions", nil, "200"),
			},
			"/events": map[string]any{
				"get": operation("streamEvents", "Server-sent runner events", nil, "200"),
			},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

var responseDescriptions = map[string]string{
	"200": "OK",
	"202": "Accepted",
	"400": "Bad request",
	"404": "Not found",
	"503": "Shutting down",
}

func operation(id, summary string, params []any, codes ...string) map[string]any {
	responses := map[string]any{
		"401": map[string]any{"description": "Unauthorized"},
		"403": map[string]any{"description": "Insufficient scope"},
	}
	for _, c := range codes {
		responses[c] = map[string]any{"description": responseDescriptions[c]}
	}
	op := map[string]any{
		"operationId": id,
		"summary":     summary,
		"responses":   responses,
		"security":    []any{map[string]any{"BearerAuth": []string{}}},
	}
	if params != nil {
		op["parameters"] = params
	}
	return op
}

func withBody(op map[string]any, schema map[string]any) map[string]any {
	op["requestBody"] = map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{"schema": schema},
		},
	}
	return op
}
