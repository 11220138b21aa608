package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coursepay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/coursepay-backend/pkg/errors"
)

func TestFindCourseAndUser(t *testing.T) {
	conn := dbtest.Open(t)
	fx := dbtest.Seed(t, conn, "Curso X", decimal.NewFromInt(150000), enums.PlanTypeMonthly)
	reader := NewRepository(conn)

	course, err := reader.FindCourse(context.Background(), fx.Course.ID)
	require.NoError(t, err)
	assert.Equal(t, "Curso X", course.Name)
	assert.True(t, course.Price.Equal(decimal.NewFromInt(150000)))

	user, err := reader.FindUser(context.Background(), fx.User.ID)
	require.NoError(t, err)
	assert.Equal(t, fx.User.Email, user.Email)
}

func TestFindCourseNotFound(t *testing.T) {
	reader := NewRepository(dbtest.Open(t))
	_, err := reader.FindCourse(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = reader.FindUser(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
