package wellenbrecher

import "github.com/wellenbrecher-go/wellenbrecher/internal/constants"

// Re-export constants for public API.
const (
	DefaultWidth                = constants.DefaultWidth
	DefaultHeight               = constants.DefaultHeight
	DefaultPort                 = constants.DefaultPort
	DefaultConnectionBufferSize = constants.DefaultConnectionBufferSize
	DefaultIOURingSize          = constants.DefaultIOURingSize
	DefaultTCPAcceptBacklog     = constants.DefaultTCPAcceptBacklog
	DefaultCanvasFileLink       = constants.DefaultCanvasFileLink
)
