// Package docs registra el documento OpenAPI servido en /swagger/*.
// Se regenera con: swag init -g cmd/api/main.go -o docs
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
        "/entities/{kind}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["entities"],
                "summary": "Listar entidades de un tipo",
                "parameters": [
                    {"type": "string", "description": "Tipo de entidad (person, cat, place, request)", "name": "kind", "in": "path", "required": true},
                    {"type": "integer", "description": "Máximo de resultados (1-500)", "name": "limit", "in": "query"},
                    {"type": "boolean", "description": "Incluir lápidas", "name": "include_merged", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpjson.ErrorResponse"}}
                }
            }
        },
        "/entities/{kind}/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["entities"],
                "summary": "Obtener una entidad",
                "parameters": [
                    {"type": "string", "name": "kind", "in": "path", "required": true},
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpjson.ErrorResponse"}}
                }
            },
            "patch": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["entities"],
                "summary": "Editar campos de una entidad",
                "parameters": [
                    {"type": "string", "name": "kind", "in": "path", "required": true},
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpjson.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httpjson.ErrorResponse"}}
                }
            }
        },
        "/entities/{kind}/{id}/relationships": {
            "get": {
                "produces": ["application/json"],
                "tags": ["entities"],
                "summary": "Vínculos de una entidad",
                "parameters": [
                    {"type": "string", "name": "kind", "in": "path", "required": true},
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/entities/{kind}/{id}/history": {
            "get": {
                "produces": ["application/json"],
                "tags": ["audit"],
                "summary": "Historial de cambios de una entidad",
                "parameters": [
                    {"type": "string", "name": "kind", "in": "path", "required": true},
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/entities/{kind}/{id}/lock": {
            "get": {
                "produces": ["application/json"],
                "tags": ["locks"],
                "summary": "Estado del lock de edición",
                "parameters": [
                    {"type": "string", "name": "kind", "in": "path", "required": true},
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "produces": ["application/json"],
                "tags": ["locks"],
                "consumes": ["application/json"],
                "summary": "Tomar o renovar el lock de edición",
                "parameters": [
                    {"type": "string", "name": "kind", "in": "path", "required": true},
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "schema": {"type": "object", "properties": {
                        "holder_id": {"type": "string"},
                        "holder_name": {"type": "string"},
                        "reason": {"type": "string"}
                    }}}
                ],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}, "409": {"description": "Conflict"}}
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["locks"],
                "consumes": ["application/json"],
                "summary": "Liberar el lock de edición",
                "parameters": [
                    {"type": "string", "name": "kind", "in": "path", "required": true},
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"name": "body", "in": "body", "schema": {"type": "object", "properties": {
                        "holder_id": {"type": "string"}
                    }}}
                ],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/audit/{editID}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["audit"],
                "summary": "Obtener una entrada de auditoría",
                "parameters": [{"type": "string", "name": "editID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/audit/{editID}/rollback": {
            "post": {
                "produces": ["application/json"],
                "tags": ["audit"],
                "summary": "Revertir una edición de campo",
                "parameters": [{"type": "string", "name": "editID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            }
        },
        "/candidate-pairs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["merges"],
                "summary": "Cola de pares candidatos",
                "parameters": [
                    {"type": "string", "name": "entity_type", "in": "query"},
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["merges"],
                "summary": "Registrar un par candidato",
                "responses": {"200": {"description": "OK"}, "201": {"description": "Created"}, "409": {"description": "Conflict"}}
            }
        },
        "/candidate-pairs/resolve": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["merges"],
                "summary": "Resolver varios pares con la misma decisión",
                "responses": {"200": {"description": "OK"}, "207": {"description": "Multi-Status"}}
            }
        },
        "/candidate-pairs/{pairID}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["merges"],
                "summary": "Obtener un par con ambas entidades",
                "parameters": [{"type": "string", "name": "pairID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/candidate-pairs/{pairID}/resolve": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["merges"],
                "summary": "Resolver un par (merge, keep_separate, dismiss)",
                "parameters": [{"type": "string", "name": "pairID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            }
        }
    },
    "definitions": {
        "httpjson.ErrorBody": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "object"}
            }
        },
        "httpjson.ErrorResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "error": {"$ref": "#/definitions/httpjson.ErrorBody"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "TNR Records API",
	Description:      "Consistencia de entidades: locks de edición, auditoría, merges y vínculos.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
