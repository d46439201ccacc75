package routes

import (
	"net/http"

	"github.com/prsnl/kgraph/internal/server/middleware"
	"github.com/prsnl/kgraph/pkg/common"
	"github.com/prsnl/kgraph/pkg/logger"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// CreateEntityHandler stores an entity supplied by the client.
func CreateEntityHandler(c echo.Context) error {
	type createEntityBody struct {
		EntityType       common.EntityType       `json:"entity_type" validate:"required"`
		SourceContentID  string                  `json:"source_content_id" validate:"required"`
		ParentEntityID   string                  `json:"parent_entity_id"`
		Name             string                  `json:"name" validate:"required"`
		Description      string                  `json:"description"`
		Metadata         common.EntityMetadata   `json:"metadata"`
		StartPosition    *float64                `json:"start_position"`
		EndPosition      *float64                `json:"end_position"`
		ConfidenceScore  *float64                `json:"confidence_score"`
		ExtractionMethod common.ExtractionMethod `json:"extraction_method"`
	}

	data := new(createEntityBody)
	if err := bind(c, data); err != nil {
		return respondError(c, err)
	}

	entity := common.Entity{
		Type:             data.EntityType,
		SourceContentID:  data.SourceContentID,
		ParentEntityID:   data.ParentEntityID,
		Name:             data.Name,
		Description:      data.Description,
		Metadata:         data.Metadata,
		StartPosition:    data.StartPosition,
		EndPosition:      data.EndPosition,
		ConfidenceScore:  1,
		ExtractionMethod: data.ExtractionMethod,
	}
	if data.ConfidenceScore != nil {
		entity.ConfidenceScore = *data.ConfidenceScore
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	id, err := app.Store.CreateEntity(ctx, entity)
	if err != nil {
		return respondError(c, err)
	}
	created, err := app.Store.GetEntity(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	logger.Debug("[Server] Entity created", "entity_id", id, "type", created.Type)
	return c.JSON(http.StatusCreated, created)
}

// CreateRelationshipHandler upserts a relationship between two entities.
func CreateRelationshipHandler(c echo.Context) error {
	type createRelationshipBody struct {
		SourceEntityID   string                  `json:"source_entity_id" validate:"required"`
		TargetEntityID   string                  `json:"target_entity_id" validate:"required"`
		RelationshipType common.RelationshipType `json:"relationship_type" validate:"required"`
		ConfidenceScore  *float64                `json:"confidence_score"`
		Strength         *float64                `json:"strength"`
		Bidirectional    bool                    `json:"bidirectional"`
		Context          string                  `json:"context"`
		ExtractionMethod common.ExtractionMethod `json:"extraction_method"`
		Evidence         map[string]any          `json:"evidence"`
		Metadata         map[string]any          `json:"metadata"`
	}

	data := new(createRelationshipBody)
	if err := bind(c, data); err != nil {
		return respondError(c, err)
	}

	rel := common.Relationship{
		SourceEntityID:   data.SourceEntityID,
		TargetEntityID:   data.TargetEntityID,
		Type:             data.RelationshipType,
		ConfidenceScore:  1,
		Strength:         1,
		Bidirectional:    data.Bidirectional,
		Context:          data.Context,
		ExtractionMethod: data.ExtractionMethod,
		Evidence:         data.Evidence,
		Metadata:         data.Metadata,
	}
	if data.ConfidenceScore != nil {
		rel.ConfidenceScore = *data.ConfidenceScore
	}
	if data.Strength != nil {
		rel.Strength = *data.Strength
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	id, err := app.Store.CreateRelationship(ctx, rel)
	if err != nil {
		return respondError(c, err)
	}
	stored, err := app.Store.GetRelationship(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, stored)
}

// DeleteRelationshipHandler removes a relationship and, for a bidirectional
// one, its mirror.
func DeleteRelationshipHandler(c echo.Context) error {
	id := c.Param("id")
	app := c.(*middleware.AppContext).App
	if err := app.Store.DeleteRelationship(c.Request().Context(), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func GetGraphStatsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	stats, err := app.Store.Stats(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
