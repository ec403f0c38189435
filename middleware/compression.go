package middleware

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-zap/types"
	"github.com/saiset-co/sai-zap/utils"
)

const (
	AlgorithmGzip       = "gzip"
	AlgorithmDeflate    = "deflate"
	AlgorithmBrotli     = "br"
	DefaultLevel        = 6
	DefaultThreshold    = 1024
	MinCompressionRatio = 0.05
)

var defaultAllowedTypes = []string{
	"application/json",
	"application/xml",
	"application/javascript",
	"text/*",
}

type CompressionMiddleware struct {
	logger            types.Logger
	compressionConfig *CompressionConfig
	weight            int
	bufferPool        sync.Pool
}

type CompressionConfig struct {
	Algorithm    string   `json:"algorithm"`
	Level        int      `json:"level"`
	Threshold    int      `json:"threshold"`
	AllowedTypes []string `json:"allowed_types"`
}

func NewCompressionMiddleware(item *types.MiddlewareItemConfig, logger types.Logger) *CompressionMiddleware {
	compressionConfig := &CompressionConfig{
		Algorithm:    AlgorithmBrotli,
		Level:        DefaultLevel,
		Threshold:    DefaultThreshold,
		AllowedTypes: defaultAllowedTypes,
	}

	if item.Params != nil {
		if err := utils.UnmarshalConfig(item.Params, compressionConfig); err != nil {
			logger.Error("Failed to unmarshal compression middleware config", zap.Error(err))
		}
	}

	if err := validateCompressionConfig(compressionConfig); err != nil {
		logger.Warn("Invalid compression config, using defaults", zap.Error(err))
		compressionConfig = &CompressionConfig{
			Algorithm:    AlgorithmBrotli,
			Level:        DefaultLevel,
			Threshold:    DefaultThreshold,
			AllowedTypes: defaultAllowedTypes,
		}
	}

	return &CompressionMiddleware{
		logger:            logger,
		compressionConfig: compressionConfig,
		weight:            item.Weight,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

func validateCompressionConfig(config *CompressionConfig) error {
	if config.Level < -1 || config.Level > 11 || (config.Algorithm != AlgorithmBrotli && config.Level > 9) {
		return types.Errorf(types.ErrInvalidParameter, "invalid compression level: %d", config.Level)
	}

	if config.Threshold < 0 {
		return types.Errorf(types.ErrInvalidParameter, "invalid threshold: %d", config.Threshold)
	}

	switch config.Algorithm {
	case AlgorithmGzip, AlgorithmDeflate, AlgorithmBrotli:
		return nil
	default:
		return types.Errorf(types.ErrNotSupported, "compression algorithm: %s", config.Algorithm)
	}
}

func (c *CompressionMiddleware) Name() string { return "compression" }
func (c *CompressionMiddleware) Weight() int  { return c.weight }

func (c *CompressionMiddleware) Handle(ctx *fasthttp.RequestCtx, next fasthttp.RequestHandler) {
	next(ctx)

	if !bytes.Contains(ctx.Request.Header.Peek(fasthttp.HeaderAcceptEncoding), []byte(c.compressionConfig.Algorithm)) {
		return
	}

	if len(ctx.Response.Header.Peek(fasthttp.HeaderContentEncoding)) > 0 {
		return
	}

	if !c.shouldCompress(ctx.Response.Header.ContentType()) {
		return
	}

	body := ctx.Response.Body()
	if len(body) < c.compressionConfig.Threshold {
		return
	}

	compressed, err := c.compress(body)
	if err != nil {
		c.logger.Warn("Response compression failed", zap.Error(err))
		return
	}

	if 1.0-float64(len(compressed))/float64(len(body)) < MinCompressionRatio {
		return
	}

	ctx.Response.Header.Set(fasthttp.HeaderContentEncoding, c.compressionConfig.Algorithm)
	ctx.Response.Header.Add(fasthttp.HeaderVary, fasthttp.HeaderAcceptEncoding)
	ctx.Response.SetBody(compressed)
}

func (c *CompressionMiddleware) shouldCompress(contentType []byte) bool {
	if len(contentType) == 0 {
		return false
	}

	ct := string(contentType)
	if semicolon := strings.Index(ct, ";"); semicolon != -1 {
		ct = ct[:semicolon]
	}
	ct = strings.TrimSpace(strings.ToLower(ct))

	for _, allowed := range c.compressionConfig.AllowedTypes {
		if allowed == ct {
			return true
		}
		if strings.HasSuffix(allowed, "*") && strings.HasPrefix(ct, strings.TrimSuffix(allowed, "*")) {
			return true
		}
	}

	return false
}

func (c *CompressionMiddleware) compress(data []byte) ([]byte, error) {
	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	var writer io.WriteCloser
	switch c.compressionConfig.Algorithm {
	case AlgorithmGzip:
		w, err := gzip.NewWriterLevel(buf, c.compressionConfig.Level)
		if err != nil {
			return nil, err
		}
		writer = w
	case AlgorithmDeflate:
		w, err := flate.NewWriter(buf, c.compressionConfig.Level)
		if err != nil {
			return nil, err
		}
		writer = w
	default:
		writer = brotli.NewWriterLevel(buf, c.compressionConfig.Level)
	}

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return append([]byte(nil), buf.Bytes()...), nil
}
