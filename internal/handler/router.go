package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-enrollment-api/internal/middleware"
	"github.com/noah-isme/sma-enrollment-api/internal/models"
)

// Handlers groups the route handlers mounted under the API prefix.
type Handlers struct {
	Catalog     *CatalogHandler
	Students    *StudentHandler
	Attendance  *AttendanceHandler
	Enrollments *EnrollmentHandler
}

// RegisterRoutes mounts the tenant-scoped API. Reads need any valid token; writes need staff,
// except attendance which teachers may also record.
func RegisterRoutes(group *gin.RouterGroup, validator *middleware.TokenValidator, h Handlers) {
	api := group.Group("")
	api.Use(middleware.JWT(validator))

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleStaff)
	teaching := middleware.RequireRoles(models.RoleAdmin, models.RoleStaff, models.RoleTeacher)

	api.POST("/schools", staff, h.Catalog.CreateSchool)
	api.GET("/schools", h.Catalog.ListSchools)
	api.GET("/schools/:id/stats", h.Catalog.SchoolStats)
	api.POST("/departments", staff, h.Catalog.CreateDepartment)
	api.GET("/departments", h.Catalog.ListDepartments)
	api.GET("/departments/:id/stats", h.Catalog.DepartmentStats)
	api.POST("/academic-years", staff, h.Catalog.CreateAcademicYear)
	api.GET("/academic-years", h.Catalog.ListAcademicYears)
	api.GET("/academic-years/:id/stats", h.Catalog.AcademicYearStats)
	api.POST("/academic-years/:id/activate", staff, h.Catalog.ActivateAcademicYear)
	api.POST("/academic-years/:id/close", staff, h.Catalog.CloseAcademicYear)
	api.POST("/classes", staff, h.Catalog.CreateClass)
	api.GET("/classes", h.Catalog.ListClasses)
	api.GET("/classes/:id/stats", h.Catalog.ClassStats)
	api.POST("/courses", staff, h.Catalog.CreateCourse)
	api.GET("/courses", h.Catalog.ListCourses)
	api.GET("/courses/:id", h.Catalog.GetCourse)
	api.PUT("/courses/:id/prerequisites", staff, h.Catalog.SetPrerequisites)
	api.GET("/courses/:id/stats", h.Catalog.CourseStats)

	api.POST("/students", staff, h.Students.Create)
	api.GET("/students", h.Students.List)
	api.POST("/students/register", staff, h.Students.Register)
	api.POST("/students/batch", staff, h.Students.Batch)
	api.GET("/students/:id", h.Students.Get)
	api.GET("/students/:id/stats", h.Students.Stats)
	api.GET("/students/:id/attendance-summary", h.Attendance.StudentSummary)
	api.POST("/students/:id/enroll", staff, h.Students.Enroll)
	api.POST("/students/:id/transfer", staff, h.Students.Transfer)
	api.POST("/students/:id/graduate", staff, h.Students.Graduate)
	api.POST("/students/:id/suspend", staff, h.Students.Suspend)
	api.POST("/students/:id/reactivate", staff, h.Students.Reactivate)
	api.POST("/students/:id/dropout", staff, h.Students.Dropout)

	api.POST("/attendance", teaching, h.Attendance.Record)
	api.GET("/attendance", h.Attendance.List)
	api.GET("/attendance/export", h.Attendance.Export)
	api.POST("/attendance/sessions", teaching, h.Attendance.Session)

	api.POST("/enrollments", staff, h.Enrollments.Create)
	api.GET("/enrollments", h.Enrollments.List)
	api.GET("/enrollments/:id", h.Enrollments.Get)
	api.DELETE("/enrollments/:id", staff, h.Enrollments.Delete)
	api.PUT("/enrollments/:id/score", teaching, h.Enrollments.SetScore)
	api.POST("/enrollments/:id/confirm", staff, h.Enrollments.Confirm)
	api.POST("/enrollments/:id/enroll", staff, h.Enrollments.Enroll)
	api.POST("/enrollments/:id/invoice", staff, h.Enrollments.GenerateInvoice)
	api.POST("/enrollments/:id/complete", staff, h.Enrollments.Complete)
	api.POST("/enrollments/:id/cancel", staff, h.Enrollments.Cancel)
	api.POST("/enrollments/:id/fail", staff, h.Enrollments.Fail)
}
