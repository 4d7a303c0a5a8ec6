package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Gong Planning API",
        "description": "Center schedule planning: edit locks, course reconciliation and plan exports.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Centers", "description": "Centers the caller may plan"},
        {"name": "Lock", "description": "Per-center edit lock and countdown"},
        {"name": "Plan", "description": "Draft plan reconciliation, edits and exports"}
    ],
    "paths": {
        "/centers": {
            "get": {
                "tags": ["Centers"],
                "summary": "Centers the caller may plan, with their lock state",
                "security": [{"BearerAuth": []}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/centers/{name}/lock": {
            "get": {
                "tags": ["Lock"],
                "summary": "Lock state of a center",
                "security": [{"BearerAuth": []}],
                "parameters": [{"$ref": "#/parameters/CenterName"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown center", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Lock"],
                "summary": "Claim the edit lock of a center",
                "description": "A center edited by someone else returns acquired=false with the holder and the next installation time.",
                "security": [{"BearerAuth": []}],
                "parameters": [{"$ref": "#/parameters/CenterName"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/LockResultEnvelope"}}}
            },
            "delete": {
                "tags": ["Lock"],
                "summary": "Give up the edit lock without saving",
                "security": [{"BearerAuth": []}],
                "parameters": [{"$ref": "#/parameters/CenterName"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/centers/{name}/lock/commit": {
            "post": {
                "tags": ["Lock"],
                "summary": "Write the draft plan to the local schedule and release the lock",
                "security": [{"BearerAuth": []}],
                "parameters": [{"$ref": "#/parameters/CenterName"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Caller does not hold the lock", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/centers/{name}/countdown": {
            "get": {
                "tags": ["Lock"],
                "summary": "Countdown of the running edit session",
                "description": "Server-sent events: tick until the lock ends, expired when time ran out.",
                "produces": ["text/event-stream"],
                "parameters": [
                    {"$ref": "#/parameters/CenterName"},
                    {"name": "ticket", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Event stream", "schema": {"$ref": "#/definitions/Tick"}},
                    "401": {"description": "Invalid ticket", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "No running session", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/centers/{name}/plan": {
            "get": {
                "tags": ["Plan"],
                "summary": "Current draft plan",
                "security": [{"BearerAuth": []}],
                "parameters": [{"$ref": "#/parameters/CenterName"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/PlanEnvelope"}},
                    "404": {"description": "No draft", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/centers/{name}/plan/refresh": {
            "post": {
                "tags": ["Plan"],
                "summary": "Reconcile the local schedule with the published courses",
                "security": [{"BearerAuth": []}],
                "parameters": [{"$ref": "#/parameters/CenterName"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/PlanEnvelope"}},
                    "409": {"description": "Caller does not hold the lock", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Course source unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/centers/{name}/plan/lines": {
            "post": {
                "tags": ["Plan"],
                "summary": "Add a manual line to the draft plan",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"$ref": "#/parameters/CenterName"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AddLineRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/PlanEnvelope"}},
                    "400": {"description": "Invalid line", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/centers/{name}/plan/lines/{lineId}": {
            "delete": {
                "tags": ["Plan"],
                "summary": "Remove a line from the draft plan",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"$ref": "#/parameters/CenterName"},
                    {"name": "lineId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/PlanEnvelope"}},
                    "404": {"description": "Unknown line", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/centers/{name}/plan/export": {
            "post": {
                "tags": ["Plan"],
                "summary": "Render the draft plan for download",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"$ref": "#/parameters/CenterName"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ExportRequest"}}
                ],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/exports/download": {
            "get": {
                "tags": ["Plan"],
                "summary": "Download an exported plan",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [{"name": "token", "in": "query", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "File"},
                    "401": {"description": "Invalid or expired link", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "parameters": {
        "CenterName": {"name": "name", "in": "path", "required": true, "type": "string"}
    },
    "definitions": {
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        },
        "LockState": {
            "type": "object",
            "properties": {
                "center": {"type": "string"},
                "status": {"type": "string", "enum": ["free", "editing"]},
                "editor": {"type": "string"},
                "timezone": {"type": "string"},
                "status_start": {"type": "string", "format": "date-time"},
                "remaining_seconds": {"type": "integer"}
            }
        },
        "LockResult": {
            "type": "object",
            "properties": {
                "acquired": {"type": "boolean"},
                "state": {"$ref": "#/definitions/LockState"},
                "message": {"type": "string"},
                "next_installation": {"type": "string", "format": "date-time"},
                "stream_ticket": {"type": "string"}
            }
        },
        "LockResultEnvelope": {
            "type": "object",
            "properties": {"data": {"$ref": "#/definitions/LockResult"}}
        },
        "Tick": {
            "type": "object",
            "properties": {
                "center": {"type": "string"},
                "holder": {"type": "string"},
                "remaining_seconds": {"type": "integer"},
                "interval_seconds": {"type": "integer"},
                "message": {"type": "string"},
                "expired": {"type": "boolean"}
            }
        },
        "PeriodEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "start_date": {"type": "string", "format": "date"},
                "end_date": {"type": "string", "format": "date"},
                "period_type": {"type": "string"},
                "source": {"type": "string", "enum": ["local", "external", "both", "new-input"]},
                "check": {"type": "string"},
                "course_type": {"type": "string"}
            }
        },
        "Plan": {
            "type": "object",
            "properties": {
                "center": {"type": "string"},
                "window_start": {"type": "string", "format": "date"},
                "window_end": {"type": "string", "format": "date"},
                "entries": {"type": "array", "items": {"$ref": "#/definitions/PeriodEntry"}},
                "unplanned": {"type": "array", "items": {"type": "string"}},
                "refreshed_at": {"type": "string", "format": "date-time"},
                "updated_by": {"type": "string"}
            }
        },
        "PlanEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/Plan"},
                "meta": {"type": "object"}
            }
        },
        "AddLineRequest": {
            "type": "object",
            "required": ["period_type", "start_date"],
            "properties": {
                "period_type": {"type": "string"},
                "start_date": {"type": "string", "format": "date"},
                "end_date": {"type": "string", "format": "date"}
            }
        },
        "ExportRequest": {
            "type": "object",
            "required": ["format"],
            "properties": {"format": {"type": "string", "enum": ["csv", "pdf"]}}
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
