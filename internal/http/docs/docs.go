// Package docs registers the dashboard OpenAPI document with swag so that
// gin-swagger can serve it.
//
// This file is maintained by hand, not generated. Keep docTemplate in step
// with the swag annotations on the handlers in internal/http/handlers when
// an endpoint or DTO changes (router_test checks that the reply route is
// served). Running
//
//	swag init -g internal/http/router.go -o internal/http/docs
//
// replaces it with generated output built from those annotations.
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
    "paths": {
        "/tickets": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Tickets"],
                "summary": "List tickets (paginated)",
                "operationId": "listTickets",
                "parameters": [
                    {"type": "string", "description": "Operator name", "name": "X-Operator-ID", "in": "header"},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"},
                    {"enum": ["open", "closed", "all"], "type": "string", "default": "all", "description": "Ticket status", "name": "status", "in": "query"},
                    {"type": "string", "description": "Category slug or name", "name": "category", "in": "query"},
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListTicketsResponse"}, "headers": {"ETag": {"type": "string", "description": "Weak ETag for current result"}}},
                    "304": {"description": "Not Modified"},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tickets/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Tickets"],
                "summary": "Get a ticket",
                "operationId": "getTicket",
                "parameters": [{"minimum": 1, "type": "integer", "description": "Ticket ID", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Ticket"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Ticket not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tickets/{id}/messages": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Tickets"],
                "summary": "Ticket history",
                "operationId": "getTicketMessages",
                "parameters": [
                    {"minimum": 1, "type": "integer", "description": "Ticket ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.TicketHistoryResponse"}},
                    "304": {"description": "Not Modified"},
                    "404": {"description": "Ticket not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tickets/{id}/reply": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Tickets"],
                "summary": "Reply to a ticket",
                "operationId": "replyTicket",
                "parameters": [
                    {"type": "string", "description": "Operator name", "name": "X-Operator-ID", "in": "header"},
                    {"type": "string", "description": "Idempotency key for safe retries (UUID recommended)", "name": "Idempotency-Key", "in": "header"},
                    {"minimum": 1, "type": "integer", "description": "Ticket ID", "name": "id", "in": "path", "required": true},
                    {"description": "Reply payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.ReplyRequest"}}
                ],
                "responses": {
                    "200": {"description": "Idempotent replay", "schema": {"$ref": "#/definitions/domain.Message"}, "headers": {"Idempotency-Replayed": {"type": "string"}}},
                    "201": {"description": "Reply queued", "schema": {"$ref": "#/definitions/domain.Message"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Ticket not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Ticket is closed", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "429": {"description": "Too many requests", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/tickets/{id}/close": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Tickets"],
                "summary": "Close a ticket",
                "operationId": "closeTicket",
                "parameters": [
                    {"type": "string", "description": "Operator name", "name": "X-Operator-ID", "in": "header"},
                    {"minimum": 1, "type": "integer", "description": "Ticket ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.Ticket"}},
                    "404": {"description": "Ticket not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Stats"],
                "summary": "Dashboard counters",
                "operationId": "getStats",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.Stats"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/categories": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Stats"],
                "summary": "Support categories",
                "operationId": "listCategories",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.CategoriesResponse"}}}
            }
        }
    },
    "definitions": {
        "domain.Category": {
            "type": "object",
            "properties": {"name": {"type": "string"}, "slug": {"type": "string"}}
        },
        "domain.Ticket": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "user_id": {"type": "integer"},
                "category": {"type": "string"},
                "status": {"type": "string", "enum": ["open", "closed"]},
                "wallet_meta": {"type": "string"},
                "last_message_preview": {"type": "string"},
                "message_count": {"type": "integer"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "closed_at": {"type": "string"}
            }
        },
        "domain.Message": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "ticket_id": {"type": "integer"},
                "direction": {"type": "string", "enum": ["inbound", "outbound"]},
                "sender": {"type": "string"},
                "text": {"type": "string"},
                "delivery_status": {"type": "string", "enum": ["pending", "delivered", "failed"]},
                "delivery_attempts": {"type": "integer"},
                "delivery_error": {"type": "string"},
                "delivered_at": {"type": "string"},
                "next_attempt_at": {"type": "string"},
                "created_at": {"type": "string"}
            }
        },
        "handlers.CategoriesResponse": {
            "type": "object",
            "properties": {"categories": {"type": "array", "items": {"$ref": "#/definitions/domain.Category"}}}
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string", "example": "ticket not found"},
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.ListTicketsResponse": {
            "type": "object",
            "properties": {
                "pagination": {"$ref": "#/definitions/handlers.Pagination"},
                "tickets": {"type": "array", "items": {"$ref": "#/definitions/domain.Ticket"}}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "has_next": {"type": "boolean"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "handlers.ReplyRequest": {
            "type": "object",
            "required": ["message"],
            "properties": {"message": {"type": "string", "example": "Your withdrawal has been processed."}}
        },
        "handlers.TicketHistoryResponse": {
            "type": "object",
            "properties": {
                "messages": {"type": "array", "items": {"$ref": "#/definitions/domain.Message"}},
                "ticket": {"$ref": "#/definitions/domain.Ticket"}
            }
        },
        "services.Stats": {
            "type": "object",
            "properties": {
                "closed_count": {"type": "integer"},
                "distinct_user_count": {"type": "integer"},
                "open_by_category": {"type": "object", "additionalProperties": {"type": "integer"}},
                "open_count": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "Support Desk Dashboard API",
	Description:      "Operator API over the shared ticket store: list, read, reply to and close Telegram support tickets.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
