package db

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dtnitsch/pagewatch/internal/common"
	"github.com/dtnitsch/pagewatch/models"
	dbpkg "github.com/dtnitsch/pagewatch/pkg/db"
)

// ResolvePage accepts a page id or a tracked URL.
func ResolvePage(ctx context.Context, arg string, database *dbpkg.DB) (*models.TrackedPage, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil {
		return database.GetPage(ctx, id)
	}
	return database.GetPageByURL(ctx, common.SanitizeURL(arg))
}

// ParseID parses the first positional argument as a row id.
func ParseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %q", arg)
	}
	return id, nil
}
