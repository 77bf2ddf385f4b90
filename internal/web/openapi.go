package web

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/JonMunkholm/tableapi/internal/core"
	"github.com/JonMunkholm/tableapi/internal/web/middleware"
)

const (
	apiTitle    = "Table API"
	apiVersion  = "1.0.0"
	securityKey = "ApiKeyAuth"
)

var componentNameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// columnSchema describes one column's values.
func columnSchema(c core.ColumnSchema) *openapi3.Schema {
	var s *openapi3.Schema
	switch c.Type {
	case core.TypeNumber:
		s = openapi3.NewFloat64Schema()
	case core.TypeBoolean:
		s = openapi3.NewBoolSchema()
	case core.TypeDate:
		s = openapi3.NewStringSchema().WithFormat("date")
		s.Description = "YYYY-MM-DD, or RFC 3339 when a time of day is present"
	default:
		s = openapi3.NewStringSchema()
	}
	s.Nullable = c.Nullable
	return s
}

// recordSchema is the object schema of a table's records. Non-nullable
// columns are required; withID adds the store-assigned id.
func recordSchema(cols []core.ColumnSchema, withID bool) *openapi3.Schema {
	s := openapi3.NewObjectSchema()
	if withID {
		s.WithProperty(core.ReservedColumn, openapi3.NewInt64Schema().WithMin(1))
		s.Required = append(s.Required, core.ReservedColumn)
	}
	for _, c := range core.StorableColumns(cols) {
		s.WithProperty(c.Name, columnSchema(c))
		if withID && !c.Nullable {
			s.Required = append(s.Required, c.Name)
		}
	}
	return s
}

// componentName turns a table name into a valid component key.
func componentName(table string) string {
	return "Table_" + componentNameUnsafe.ReplaceAllString(table, "_")
}

// schemaRef references a component schema. The value is carried along so
// the document validates without a loader pass.
func schemaRef(doc *openapi3.T, name string) *openapi3.SchemaRef {
	return openapi3.NewSchemaRef("#/components/schemas/"+name, doc.Components.Schemas[name].Value)
}

func jsonResponse(desc string, schema *openapi3.SchemaRef) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{Value: openapi3.NewResponse().WithDescription(desc).WithJSONSchemaRef(schema)}
}

func errorResponse(doc *openapi3.T, desc string) *openapi3.ResponseRef {
	return jsonResponse(desc, schemaRef(doc, "Error"))
}

// envelopeSchema wraps data the way respond does.
func envelopeSchema(doc *openapi3.T, data *openapi3.SchemaRef, paged bool) *openapi3.SchemaRef {
	s := openapi3.NewObjectSchema().
		WithProperty("success", openapi3.NewBoolSchema())
	s.Properties["data"] = data
	s.Required = []string{"success", "data"}
	if paged {
		s.Properties["pagination"] = schemaRef(doc, "Pagination")
		s.Required = append(s.Required, "pagination")
	}
	return openapi3.NewSchemaRef("", s)
}

// baseComponents holds the schemas shared by every table.
func baseComponents() *openapi3.Components {
	errSchema := openapi3.NewObjectSchema().
		WithProperty("success", openapi3.NewBoolSchema()).
		WithProperty("error", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("action", openapi3.NewStringSchema()).
		WithProperty("code", openapi3.NewStringSchema())
	errSchema.Required = []string{"success", "error", "message", "code"}

	page := openapi3.NewObjectSchema().
		WithProperty("limit", openapi3.NewIntegerSchema()).
		WithProperty("offset", openapi3.NewIntegerSchema()).
		WithProperty("total", openapi3.NewInt64Schema())
	page.Required = []string{"limit", "offset", "total"}

	return &openapi3.Components{
		Schemas: openapi3.Schemas{
			"Error":      openapi3.NewSchemaRef("", errSchema),
			"Pagination": openapi3.NewSchemaRef("", page),
		},
		SecuritySchemes: openapi3.SecuritySchemes{
			securityKey: &openapi3.SecuritySchemeRef{Value: &openapi3.SecurityScheme{
				Type: "apiKey",
				In:   "header",
				Name: middleware.APIKeyHeader,
			}},
		},
	}
}

// tablePaths adds the collection and item paths of one table.
func tablePaths(doc *openapi3.T, table string, cols []core.ColumnSchema) {
	name := componentName(table)
	input := name + "_Input"
	doc.Components.Schemas[name] = openapi3.NewSchemaRef("", recordSchema(cols, true))
	doc.Components.Schemas[input] = openapi3.NewSchemaRef("", recordSchema(cols, false))

	record := envelopeSchema(doc, schemaRef(doc, name), false)
	items := openapi3.NewArraySchema()
	items.Items = schemaRef(doc, name)
	list := envelopeSchema(doc, openapi3.NewSchemaRef("", items), true)
	body := openapi3.NewRequestBody().WithRequired(true).WithJSONSchemaRef(schemaRef(doc, input))

	params := openapi3.Parameters{
		{Value: openapi3.NewQueryParameter("limit").WithSchema(openapi3.NewIntegerSchema().WithMin(1))},
		{Value: openapi3.NewQueryParameter("offset").WithSchema(openapi3.NewIntegerSchema().WithMin(0))},
	}
	for _, c := range core.StorableColumns(cols) {
		if c.Name == "limit" || c.Name == "offset" {
			continue
		}
		p := openapi3.NewQueryParameter(c.Name).WithSchema(openapi3.NewStringSchema())
		p.Description = "Equality filter on " + c.Name
		params = append(params, &openapi3.ParameterRef{Value: p})
	}

	base := "/api/data/" + url.PathEscape(table)
	doc.Paths.Set(base, &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "list_" + name,
			Summary:     "List " + table + " records",
			Tags:        []string{table},
			Parameters:  params,
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("A page of records", list)),
				openapi3.WithStatus(http.StatusNotFound, errorResponse(doc, "Unknown table")),
			),
		},
		Post: &openapi3.Operation{
			OperationID: "create_" + name,
			Summary:     "Create a " + table + " record",
			Tags:        []string{table},
			RequestBody: &openapi3.RequestBodyRef{Value: body},
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusCreated, jsonResponse("The created record", record)),
				openapi3.WithStatus(http.StatusBadRequest, errorResponse(doc, "Invalid record")),
			),
		},
	})

	idParam := &openapi3.ParameterRef{Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewInt64Schema().WithMin(1))}
	notFound := errorResponse(doc, "Unknown table or record")
	doc.Paths.Set(base+"/{id}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{idParam},
		Get: &openapi3.Operation{
			OperationID: "get_" + name,
			Summary:     "Get a " + table + " record",
			Tags:        []string{table},
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("The record", record)),
				openapi3.WithStatus(http.StatusNotFound, notFound),
			),
		},
		Put: &openapi3.Operation{
			OperationID: "update_" + name,
			Summary:     "Merge fields into a " + table + " record",
			Tags:        []string{table},
			RequestBody: &openapi3.RequestBodyRef{Value: body},
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("The updated record", record)),
				openapi3.WithStatus(http.StatusBadRequest, errorResponse(doc, "Invalid record")),
				openapi3.WithStatus(http.StatusNotFound, notFound),
			),
		},
		Delete: &openapi3.Operation{
			OperationID: "delete_" + name,
			Summary:     "Delete a " + table + " record",
			Tags:        []string{table},
			Responses: openapi3.NewResponses(
				openapi3.WithStatus(http.StatusOK, jsonResponse("Deletion confirmation", envelopeSchema(doc, openapi3.NewSchemaRef("", openapi3.NewObjectSchema()), false))),
				openapi3.WithStatus(http.StatusNotFound, notFound),
			),
		},
	})
}

// buildOpenAPI documents the record endpoints of every table in the registry.
func (s *Server) buildOpenAPI(ctx context.Context) (*openapi3.T, error) {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       apiTitle,
			Version:     apiVersion,
			Description: "CRUD endpoints generated from uploaded files.",
		},
		Paths:      openapi3.NewPaths(),
		Components: baseComponents(),
	}
	if s.cfg.Security.RequireAPIKey {
		doc.Security = openapi3.SecurityRequirements{
			openapi3.NewSecurityRequirement().Authenticate(securityKey),
		}
	}

	tables, err := s.service.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	for _, table := range tables {
		schema, err := s.service.GetTableSchema(ctx, table)
		if core.IsNotFound(err) {
			continue // dropped while building
		}
		if err != nil {
			return nil, fmt.Errorf("document table %s: %w", table, err)
		}
		tablePaths(doc, table, schema.Columns)
	}
	return doc, nil
}

// handleDocs serves the OpenAPI document.
func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	doc, err := s.buildOpenAPI(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	s.encode(w, r, doc)
}
