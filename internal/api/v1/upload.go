package v1

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"ratebook/internal/importer"
	"ratebook/internal/model"
)

// uploadRequest JSON 形式的上传（文件内容 base64）
type uploadRequest struct {
	FileName     string `json:"fileName"`
	FileBase64   string `json:"fileBase64"`
	ProviderCode string `json:"providerCode"`
	ContractType string `json:"contractType"`
	Force        bool   `json:"force"`
	Stream       bool   `json:"stream"`
}

var errNoFile = errors.New("未找到上传文件")

// readUpload 读取 multipart 文件或 JSON base64 内容
func (h *Handler) readUpload(c *gin.Context) (importer.ImportOptions, bool, error) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		return readMultipart(c)
	}

	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return importer.ImportOptions{}, false, fmt.Errorf("无效的请求数据: %w", err)
	}
	if req.FileBase64 == "" {
		return importer.ImportOptions{}, false, errNoFile
	}
	data, err := decodeBase64(req.FileBase64)
	if err != nil {
		return importer.ImportOptions{}, false, fmt.Errorf("文件内容不是有效的 base64: %w", err)
	}
	opts := importer.ImportOptions{
		FileName:     req.FileName,
		Data:         data,
		ProviderCode: strings.TrimSpace(req.ProviderCode),
		ContractType: model.ContractType(strings.TrimSpace(req.ContractType)),
		Force:        req.Force,
	}
	return opts, req.Stream || wantsStream(c), nil
}

func readMultipart(c *gin.Context) (importer.ImportOptions, bool, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return importer.ImportOptions{}, false, errNoFile
		}
		return importer.ImportOptions{}, false, fmt.Errorf("无效的表单数据: %w", err)
	}
	f, err := fh.Open()
	if err != nil {
		return importer.ImportOptions{}, false, fmt.Errorf("读取上传文件失败: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return importer.ImportOptions{}, false, fmt.Errorf("读取上传文件失败: %w", err)
	}

	force, _ := strconv.ParseBool(c.DefaultPostForm("force", "false"))
	stream, _ := strconv.ParseBool(c.DefaultPostForm("stream", "false"))
	opts := importer.ImportOptions{
		FileName:     fh.Filename,
		Data:         data,
		ProviderCode: strings.TrimSpace(c.PostForm("providerCode")),
		ContractType: model.ContractType(strings.TrimSpace(c.PostForm("contractType"))),
		Force:        force,
	}
	return opts, stream || wantsStream(c), nil
}

func wantsStream(c *gin.Context) bool {
	if v, err := strconv.ParseBool(c.Query("stream")); err == nil && v {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

// decodeBase64 兼容 data URL 前缀与 URL-safe 编码
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
