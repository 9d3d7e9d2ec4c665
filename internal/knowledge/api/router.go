package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all routes of the knowledge service.
func RegisterRoutes(router *gin.Engine, api *API) {
	router.GET("/healthz", api.HealthzHandler)

	v1 := router.Group("/api/v1")
	{
		collections := v1.Group("/collections")
		{
			collections.GET("", api.ListCollectionsHandler)
			collections.GET("/:name", api.GetCollectionHandler)
			collections.DELETE("/:name", api.DeleteCollectionHandler)
			collections.POST("/:name/documents", api.UploadDocumentHandler)
			collections.GET("/:name/documents", api.ListDocumentsHandler)
			collections.POST("/:name/search", api.SearchHandler)
		}

		documents := v1.Group("/documents")
		{
			documents.GET("/:id", api.GetDocumentHandler)
			documents.POST("/:id/retry", api.RetryDocumentHandler)
			documents.DELETE("/:id", api.DeleteDocumentHandler)
		}
	}
}
