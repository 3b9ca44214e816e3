package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/dhwagstaff/tbeacon/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	itemType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Item",
		Fields: graphql.Fields{
			"uid":           &graphql.Field{Type: graphql.String},
			"kind":          &graphql.Field{Type: graphql.String},
			"name":          &graphql.Field{Type: graphql.String},
			"category":      &graphql.Field{Type: graphql.String},
			"location":      &graphql.Field{Type: geoPointType},
			"location_name": &graphql.Field{Type: graphql.String},
			"store_name":    &graphql.Field{Type: graphql.String},
			"store_address": &graphql.Field{Type: graphql.String},
			"barcode":       &graphql.Field{Type: graphql.String},
			"quantity":      &graphql.Field{Type: graphql.Int},
			"completed":     &graphql.Field{Type: graphql.Boolean},
		},
	})

	storeGroupType := graphql.NewObject(graphql.ObjectConfig{
		Name: "StoreGroup",
		Fields: graphql.Fields{
			"store_name":    &graphql.Field{Type: graphql.String},
			"store_address": &graphql.Field{Type: graphql.String},
			"location":      &graphql.Field{Type: geoPointType},
			"items":         &graphql.Field{Type: graphql.NewList(itemType)},
		},
	})

	placeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Place",
		Fields: graphql.Fields{
			"name":     &graphql.Field{Type: graphql.String},
			"address":  &graphql.Field{Type: graphql.String},
			"location": &graphql.Field{Type: geoPointType},
			"distance": &graphql.Field{Type: graphql.Float},
		},
	})

	regionsType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Regions",
		Fields: graphql.Fields{
			"regions":       &graphql.Field{Type: graphql.NewList(graphql.String)},
			"count":         &graphql.Field{Type: graphql.Int},
			"capacity":      &graphql.Field{Type: graphql.Int},
			"radius_meters": &graphql.Field{Type: graphql.Float},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"items": &graphql.Field{
				Type:        graphql.NewList(itemType),
				Description: "List items, optionally filtered by kind",
				Args: graphql.FieldConfigArgument{
					"kind": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					kind := domain.ItemKind(p.Args["kind"].(string))
					return deps.Items.List(p.Context, kind)
				},
			},
			"item": &graphql.Field{
				Type:        itemType,
				Description: "Get an item by UID",
				Args: graphql.FieldConfigArgument{
					"uid": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Items.Get(p.Context, p.Args["uid"].(string))
				},
			},
			"shoppingByStore": &graphql.Field{
				Type:        graphql.NewList(storeGroupType),
				Description: "Shopping items grouped per store",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Items.ListGroupedByStore(p.Context)
				},
			},
			"searchPlaces": &graphql.Field{
				Type:        graphql.NewList(placeType),
				Description: "Ranked place search around a coordinate",
				Args: graphql.FieldConfigArgument{
					"query":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"lat":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radius": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 0.0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					near := domain.GeoPoint{
						Lat: p.Args["lat"].(float64),
						Lon: p.Args["lon"].(float64),
					}
					return deps.Places.Search(p.Context, p.Args["query"].(string), near, p.Args["radius"].(float64))
				},
			},
			"regions": &graphql.Field{
				Type:        regionsType,
				Description: "Currently monitored geofence regions",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					active := deps.Coordinator.ActiveRegions()
					return map[string]interface{}{
						"regions":       active,
						"count":         len(active),
						"capacity":      deps.Registry.Capacity(),
						"radius_meters": deps.Coordinator.Radius(),
					}, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.Context(),
		})

		return c.JSON(result)
	}
}
