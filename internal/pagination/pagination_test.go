package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name         string
		page, size   int
		wantPage     int
		wantPageSize int
	}{
		{"defaults", 0, 0, 1, DefaultPageSize},
		{"negative page", -3, 10, 1, 10},
		{"size above cap", 1, 500, 1, MaxPageSize},
		{"negative size", 2, -1, 2, DefaultPageSize},
		{"in range", 4, 25, 4, 25},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := Normalize(tc.page, tc.size)
			assert.Equal(t, tc.wantPage, params.Page)
			assert.Equal(t, tc.wantPageSize, params.PageSize)
		})
	}
}

func TestParams_Offset(t *testing.T) {
	assert.Equal(t, 0, Params{Page: 1, PageSize: 10}.Offset())
	assert.Equal(t, 40, Params{Page: 5, PageSize: 10}.Offset())
}

func TestNewPage(t *testing.T) {
	t.Run("rounds total pages up", func(t *testing.T) {
		page := NewPage([]int{1, 2, 3}, Params{Page: 1, PageSize: 10}, 21)
		assert.Equal(t, 3, page.TotalPages)
		assert.Equal(t, 21, page.TotalRecords)
	})

	t.Run("exact multiple", func(t *testing.T) {
		page := NewPage([]int{}, Params{Page: 2, PageSize: 10}, 20)
		assert.Equal(t, 2, page.TotalPages)
	})

	t.Run("empty result", func(t *testing.T) {
		page := NewPage[int](nil, Params{Page: 1, PageSize: 10}, 0)
		assert.Equal(t, 0, page.TotalPages)
		assert.NotNil(t, page.Items)
	})
}
