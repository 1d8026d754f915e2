// Package docs registers the OpenAPI description of the circulation API with
// swag so gin-swagger can serve it at /swagger/*. Regenerate the template
// from the handler annotations with:
//
//	swag init -g internal/http/router.go -o internal/docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "ActorID": {"type": "apiKey", "name": "X-Actor-ID", "in": "header"},
        "ActorRole": {"type": "apiKey", "name": "X-Actor-Role", "in": "header"}
    },
    "security": [{"ActorID": [], "ActorRole": []}],
    "paths": {
        "/circulation/borrow": {
            "post": {
                "tags": ["Circulation"], "summary": "Lend a copy to a reader", "operationId": "borrowCopy",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.BorrowRequest"}}
                ],
                "responses": {
                    "200": {"description": "Idempotent replay", "schema": {"$ref": "#/definitions/domain.BorrowRecord"}},
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/domain.BorrowRecord"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "403": {"description": "Credit or quota violation", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Unknown copy or reader", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Copy not lendable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/circulation/return": {
            "post": {
                "tags": ["Circulation"], "summary": "Take a copy back", "operationId": "returnCopy",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ReturnRequest"}}],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Unknown copy", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Copy not on loan", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/copies/{barcode}": {
            "get": {
                "tags": ["Catalog"], "summary": "Get a copy", "operationId": "getCopy", "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "barcode", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}, "404": {"description": "Unknown copy", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/copies/{barcode}/damage": {
            "post": {
                "tags": ["Circulation"], "summary": "Retire a damaged copy", "operationId": "reportDamage",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "barcode", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.DamageRequest"}}
                ],
                "responses": {"201": {"description": "Created", "schema": {"type": "object"}}, "409": {"description": "Already damaged", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/reservations": {
            "post": {
                "tags": ["Reservations"], "summary": "Reserve a title", "operationId": "reserveTitle",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ReserveRequest"}}
                ],
                "responses": {"201": {"description": "Created", "schema": {"type": "object"}}, "409": {"description": "Copy in stock or reservation already open", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/reservations/{id}": {
            "get": {
                "tags": ["Reservations"], "summary": "Get a reservation", "operationId": "getReservation", "produces": ["application/json"],
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/borrows/{id}/extensions": {
            "post": {
                "tags": ["Extensions"], "summary": "Request a loan extension", "operationId": "requestExtension",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ExtensionRequestBody"}}
                ],
                "responses": {"201": {"description": "Created", "schema": {"type": "object"}}, "409": {"description": "Loan closed or request already pending", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/extensions/{id}/review": {
            "post": {
                "tags": ["Extensions"], "summary": "Approve or reject an extension", "operationId": "reviewExtension",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [
                    {"type": "integer", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ReviewRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}, "409": {"description": "Already reviewed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/readers/{reader_id}": {
            "get": {
                "tags": ["Readers"], "summary": "Get a reader", "operationId": "getReader", "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "reader_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}, "403": {"description": "Not your record", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/readers/{reader_id}/borrows": {
            "get": {
                "tags": ["Readers"], "summary": "List a reader's loans", "operationId": "listReaderBorrows", "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "reader_id", "in": "path", "required": true},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/readers/{reader_id}/credit-log": {
            "get": {
                "tags": ["Readers"], "summary": "List a reader's credit ledger", "operationId": "listCreditLog", "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "reader_id", "in": "path", "required": true},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/readers/{reader_id}/credit": {
            "post": {
                "tags": ["Readers"], "summary": "Adjust a reader's credit", "operationId": "adjustCredit",
                "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "reader_id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.AdjustCreditRequest"}}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}, "403": {"description": "System role required", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/titles": {
            "get": {
                "tags": ["Catalog"], "summary": "Search the catalog", "operationId": "searchTitles", "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "q", "in": "query"},
                    {"type": "integer", "name": "page", "in": "query"},
                    {"type": "integer", "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/jobs/reservation-expiry": {
            "post": {
                "tags": ["Jobs"], "summary": "Run the reservation expiry sweep", "operationId": "runReservationExpiry", "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}, "409": {"description": "Job already running", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/jobs/credit-recovery": {
            "post": {
                "tags": ["Jobs"], "summary": "Run the monthly credit recovery", "operationId": "runCreditRecovery", "produces": ["application/json"],
                "parameters": [{"type": "boolean", "name": "force", "in": "query"}],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}, "409": {"description": "Job already running", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/jobs/runs": {
            "get": {
                "tags": ["Jobs"], "summary": "List recent job runs", "operationId": "listJobRuns", "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "job", "in": "query"}, {"type": "integer", "name": "limit", "in": "query"}],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/reports/overdue": {
            "get": {
                "tags": ["Reports"], "summary": "Overdue loans", "operationId": "overdueReport", "produces": ["application/json"],
                "parameters": [{"type": "integer", "name": "limit", "in": "query"}],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/reports/damage": {
            "get": {
                "tags": ["Reports"], "summary": "Damage log", "operationId": "damageReport", "produces": ["application/json"],
                "parameters": [{"type": "string", "name": "since", "in": "query"}, {"type": "integer", "name": "limit", "in": "query"}],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}, "400": {"description": "Bad since", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}}
            }
        },
        "/reports/summary": {
            "get": {
                "tags": ["Reports"], "summary": "Circulation summary", "operationId": "summaryReport", "produces": ["application/json"],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        }
    },
    "definitions": {
        "domain.BorrowRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "reader_id": {"type": "string"},
                "barcode": {"type": "string"},
                "borrowed_at": {"type": "string"},
                "due_at": {"type": "string"},
                "returned_at": {"type": "string"},
                "status": {"type": "string", "enum": ["active", "returned_on_time", "returned_late"]}
            }
        },
        "handlers.BorrowRequest": {
            "type": "object", "required": ["barcode", "reader_id"],
            "properties": {"barcode": {"type": "string", "example": "B000123"}, "reader_id": {"type": "string", "example": "r-2025-0042"}}
        },
        "handlers.ReturnRequest": {
            "type": "object", "required": ["barcode"],
            "properties": {"barcode": {"type": "string", "example": "B000123"}}
        },
        "handlers.DamageRequest": {
            "type": "object", "required": ["reason"],
            "properties": {"reason": {"type": "string", "maxLength": 255}}
        },
        "handlers.ReserveRequest": {
            "type": "object", "required": ["isbn"],
            "properties": {"isbn": {"type": "string"}, "reader_id": {"type": "string"}}
        },
        "handlers.ExtensionRequestBody": {
            "type": "object", "required": ["days"],
            "properties": {"days": {"type": "integer", "minimum": 1}, "reason": {"type": "string", "maxLength": 255}}
        },
        "handlers.ReviewRequest": {
            "type": "object", "required": ["decision"],
            "properties": {"decision": {"type": "string", "enum": ["approve", "reject"]}}
        },
        "handlers.AdjustCreditRequest": {
            "type": "object", "required": ["delta", "reason"],
            "properties": {"delta": {"type": "integer"}, "reason": {"type": "string", "maxLength": 255}}
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string"},
                "details": {"type": "object"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Library Circulation API",
	Description:      "Borrow, return, reserve and extend loans against a credit-gated circulation core.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
