package objstore

import (
	"context"

	"agents-eval/internal/shared/model"
)

// NoOpArchive 未配置 MinIO 时使用
type NoOpArchive struct{}

func (NoOpArchive) SaveTranscript(context.Context, *model.Run) error { return nil }

func (NoOpArchive) LoadTranscript(context.Context, string) (*model.Run, error) { return nil, nil }

func (NoOpArchive) DeleteTranscript(context.Context, string) error { return nil }
