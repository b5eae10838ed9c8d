package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the frame service endpoints with the given router group.
//
// Endpoints:
//   - POST /index - Build or load the seek index of a file
//   - GET /status - Service state, cache outcome and counters
//   - PUT /settings/seek - Select the seek mode
//   - PUT /settings/output - Update the output format
//   - GET /tracks - List tracks
//   - GET /tracks/:track/frames - All frame records of a track
//   - GET /tracks/:track/frames/:frame - One frame record
//   - GET /tracks/:track/frames/:frame/snapshot.webp - Decoded frame as WebP
//   - GET /tracks/:track/position/:offset - Frame at a byte offset
//   - GET /tracks/:track/time/:seconds - Frame at a time
//   - POST /display - Show a frame on a surface
//   - GET /surfaces - Attached display surfaces
//   - GET /surfaces/ws - Attach a websocket display surface
//   - GET /system - Host stats
func RegisterRoutes(router *gin.RouterGroup, handler *Handler) {
	router.POST("/index", handler.Index)
	router.GET("/status", handler.Status)
	router.GET("/system", handler.System)

	settings := router.Group("/settings")
	{
		settings.PUT("/seek", handler.SetSeekMode)
		settings.PUT("/output", handler.SetOutputFormat)
	}

	tracks := router.Group("/tracks")
	{
		tracks.GET("", handler.ListTracks)
		tracks.GET("/:track/frames", handler.ListFrames)
		tracks.GET("/:track/frames/:frame", handler.GetFrame)
		tracks.GET("/:track/frames/:frame/snapshot.webp", handler.Snapshot)
		tracks.GET("/:track/position/:offset", handler.GetFrameAtPosition)
		tracks.GET("/:track/time/:seconds", handler.GetFrameAtTime)
	}

	router.POST("/display", handler.Display)

	surfaces := router.Group("/surfaces")
	{
		surfaces.GET("", handler.ListSurfaces)
		surfaces.GET("/ws", handler.AttachSurface)
	}
}
