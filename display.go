package visualservo

import (
	"context"
	"encoding/base64"
	"fmt"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	genericservice "go.viam.com/rdk/services/generic"
	rutils "go.viam.com/rdk/utils"
)

// ServoCamera shows the last frame of a visual-servo service with the
// initial (blue), tracked (green) and desired (red) dot positions drawn on it.
var ServoCamera = NamespaceFamily.WithModel("servo-camera")

func init() {
	resource.RegisterComponent(camera.API, ServoCamera,
		resource.Registration[camera.Camera, *DisplayConfig]{
			Constructor: newServoCamera,
		},
	)
}

type DisplayConfig struct {
	Service string `json:"service"`
}

func (cfg *DisplayConfig) Validate(path string) ([]string, error) {
	if cfg.Service == "" {
		return nil, fmt.Errorf("need service")
	}
	return []string{cfg.Service}, nil
}

type servoCamera struct {
	resource.AlwaysRebuild

	name resource.Name

	logger logging.Logger
	cfg    *DisplayConfig

	svc resource.Resource
}

func newServoCamera(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (camera.Camera, error) {
	conf, err := resource.NativeConfig[*DisplayConfig](rawConf)
	if err != nil {
		return nil, err
	}

	return NewServoCamera(ctx, deps, rawConf.ResourceName(), conf, logger)
}

func NewServoCamera(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *DisplayConfig, logger logging.Logger) (camera.Camera, error) {
	svc, err := resource.FromDependencies[resource.Resource](deps, genericservice.Named(conf.Service))
	if err != nil {
		return nil, err
	}
	return &servoCamera{
		name:   name,
		logger: logger,
		cfg:    conf,
		svc:    svc,
	}, nil
}

func (c *servoCamera) Name() resource.Name {
	return c.name
}

func (c *servoCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return c.svc.DoCommand(ctx, cmd)
}

func (c *servoCamera) Close(context.Context) error {
	return nil
}

// frame asks the service for its annotated frame, JPEG encoded.
func (c *servoCamera) frame(ctx context.Context) ([]byte, error) {
	resp, err := c.svc.DoCommand(ctx, map[string]interface{}{"command": "frame"})
	if err != nil {
		return nil, err
	}
	encoded, ok := resp["image"].(string)
	if !ok {
		return nil, fmt.Errorf("service %q returned no image", c.cfg.Service)
	}
	return base64.StdEncoding.DecodeString(encoded)
}

func (c *servoCamera) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	data, err := c.frame(ctx)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	if mimeType == "" || mimeType == rutils.MimeTypeJPEG {
		return data, camera.ImageMetadata{MimeType: rutils.MimeTypeJPEG}, nil
	}

	img, err := rimage.DecodeImage(ctx, data, rutils.MimeTypeJPEG)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	out, err := rimage.EncodeImage(ctx, img, mimeType)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	return out, camera.ImageMetadata{MimeType: mimeType}, nil
}

func (c *servoCamera) Images(ctx context.Context) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	data, err := c.frame(ctx)
	if err != nil {
		return nil, resource.ResponseMetadata{}, err
	}
	img, err := rimage.DecodeImage(ctx, data, rutils.MimeTypeJPEG)
	if err != nil {
		return nil, resource.ResponseMetadata{}, err
	}
	return []camera.NamedImage{{Image: img, SourceName: c.name.ShortName()}}, resource.ResponseMetadata{}, nil
}

func (c *servoCamera) NextPointCloud(ctx context.Context) (pointcloud.PointCloud, error) {
	return nil, errUnimplemented
}

func (c *servoCamera) Properties(ctx context.Context) (camera.Properties, error) {
	return camera.Properties{
		SupportsPCD: false,
	}, nil
}
