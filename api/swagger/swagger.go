package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {"title": "SMA Enrollment API", "description": "Tenant-scoped school enrollment core: catalog, students, attendance and course enrollments.", "version": "1.0.0"},
    "basePath": "/api/v1",
    "schemes": ["http"],
    "securityDefinitions": {"BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}},
    "tags": [{"name": "Catalog", "description": "Schools, departments, academic years, classes and courses"}, {"name": "Students", "description": "Student registry and lifecycle"}, {"name": "Attendance", "description": "Attendance ledger"}, {"name": "Enrollments", "description": "Course enrollment engine"}],
    "paths": {
        "/schools": {
            "post": {"tags": ["Catalog"], "summary": "Create school", "security": [{"BearerAuth": []}], "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateSchoolRequest"}}], "responses": {"201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}},
            "get": {"tags": ["Catalog"], "summary": "List schools", "security": [{"BearerAuth": []}], "parameters": [{"name": "page", "in": "query", "type": "integer"}, {"name": "limit", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/schools/{id}/stats": {
            "get": {"tags": ["Catalog"], "summary": "School statistics", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/departments": {
            "post": {"tags": ["Catalog"], "summary": "Create department", "security": [{"BearerAuth": []}], "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateDepartmentRequest"}}], "responses": {"201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}},
            "get": {"tags": ["Catalog"], "summary": "List departments", "security": [{"BearerAuth": []}], "parameters": [{"name": "schoolId", "in": "query", "type": "string"}, {"name": "page", "in": "query", "type": "integer"}, {"name": "limit", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/departments/{id}/stats": {
            "get": {"tags": ["Catalog"], "summary": "Department statistics", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/academic-years": {
            "post": {"tags": ["Catalog"], "summary": "Create academic year", "security": [{"BearerAuth": []}], "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateAcademicYearRequest"}}], "responses": {"201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}},
            "get": {"tags": ["Catalog"], "summary": "List academic years", "security": [{"BearerAuth": []}], "parameters": [{"name": "schoolId", "in": "query", "type": "string"}, {"name": "page", "in": "query", "type": "integer"}, {"name": "limit", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/academic-years/{id}/stats": {
            "get": {"tags": ["Catalog"], "summary": "Academic year statistics", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/academic-years/{id}/activate": {
            "post": {"tags": ["Catalog"], "summary": "Activate academic year", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/academic-years/{id}/close": {
            "post": {"tags": ["Catalog"], "summary": "Close academic year", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/classes": {
            "post": {"tags": ["Catalog"], "summary": "Create class", "security": [{"BearerAuth": []}], "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateClassRequest"}}], "responses": {"201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}},
            "get": {"tags": ["Catalog"], "summary": "List classes", "security": [{"BearerAuth": []}], "parameters": [{"name": "academicYearId", "in": "query", "type": "string"}, {"name": "page", "in": "query", "type": "integer"}, {"name": "limit", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/classes/{id}/stats": {
            "get": {"tags": ["Catalog"], "summary": "Class capacity statistics", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/courses": {
            "post": {"tags": ["Catalog"], "summary": "Create course", "security": [{"BearerAuth": []}], "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateCourseRequest"}}], "responses": {"201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}},
            "get": {"tags": ["Catalog"], "summary": "List courses", "security": [{"BearerAuth": []}], "parameters": [{"name": "departmentId", "in": "query", "type": "string"}, {"name": "active", "in": "query", "type": "boolean"}, {"name": "search", "in": "query", "type": "string"}, {"name": "page", "in": "query", "type": "integer"}, {"name": "limit", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/courses/{id}": {
            "get": {"tags": ["Catalog"], "summary": "Get course", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/courses/{id}/prerequisites": {
            "put": {"tags": ["Catalog"], "summary": "Replace course prerequisites", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}, {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetPrerequisitesRequest"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/courses/{id}/stats": {
            "get": {"tags": ["Catalog"], "summary": "Course statistics", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/students": {
            "post": {"tags": ["Students"], "summary": "Create student", "security": [{"BearerAuth": []}], "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateStudentBody"}}], "responses": {"201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}},
            "get": {"tags": ["Students"], "summary": "List students", "security": [{"BearerAuth": []}], "parameters": [{"name": "classId", "in": "query", "type": "string"}, {"name": "state", "in": "query", "type": "string"}, {"name": "search", "in": "query", "type": "string"}, {"name": "page", "in": "query", "type": "integer"}, {"name": "limit", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/students/register": {
            "post": {"tags": ["Students"], "summary": "Register student with guardians", "security": [{"BearerAuth": []}], "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterStudentRequest"}}], "responses": {"201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/students/batch": {
            "post": {"tags": ["Students"], "summary": "Create students in one class", "security": [{"BearerAuth": []}], "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/StudentBatchBody"}}], "responses": {"201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/students/{id}": {
            "get": {"tags": ["Students"], "summary": "Get student", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/students/{id}/stats": {
            "get": {"tags": ["Students"], "summary": "Student statistics", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/students/{id}/attendance-summary": {
            "get": {"tags": ["Attendance"], "summary": "Attendance summary of a student", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}, {"name": "from", "in": "query", "type": "string"}, {"name": "to", "in": "query", "type": "string"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/students/{id}/enroll": {
            "post": {"tags": ["Students"], "summary": "Enroll draft student in class", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}, {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/EnrollStudentBody"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "422": {"description": "Business rule failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/students/{id}/transfer": {
            "post": {"tags": ["Students"], "summary": "Transfer student to another class", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}, {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TransferStudentRequest"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/students/{id}/graduate": {
            "post": {"tags": ["Students"], "summary": "Graduate student", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "422": {"description": "Business rule failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/students/{id}/suspend": {
            "post": {"tags": ["Students"], "summary": "Suspend student", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}, {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/SuspendStudentBody"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/students/{id}/reactivate": {
            "post": {"tags": ["Students"], "summary": "Reactivate suspended student", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/students/{id}/dropout": {
            "post": {"tags": ["Students"], "summary": "Drop student out", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/attendance": {
            "post": {"tags": ["Attendance"], "summary": "Record attendance", "security": [{"BearerAuth": []}], "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RecordAttendanceRequest"}}], "responses": {"201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}},
            "get": {"tags": ["Attendance"], "summary": "List attendance", "security": [{"BearerAuth": []}], "parameters": [{"name": "studentId", "in": "query", "type": "string"}, {"name": "classId", "in": "query", "type": "string"}, {"name": "enrollmentId", "in": "query", "type": "string"}, {"name": "state", "in": "query", "type": "string"}, {"name": "from", "in": "query", "type": "string"}, {"name": "to", "in": "query", "type": "string"}, {"name": "page", "in": "query", "type": "integer"}, {"name": "limit", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/attendance/export": {
            "get": {"tags": ["Attendance"], "summary": "Export attendance as CSV", "security": [{"BearerAuth": []}], "parameters": [{"name": "studentId", "in": "query", "type": "string"}, {"name": "classId", "in": "query", "type": "string"}, {"name": "from", "in": "query", "type": "string"}, {"name": "to", "in": "query", "type": "string"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/attendance/sessions": {
            "post": {"tags": ["Attendance"], "summary": "Record a class attendance session", "security": [{"BearerAuth": []}], "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AttendanceSessionBody"}}], "responses": {"201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/enrollments": {
            "post": {"tags": ["Enrollments"], "summary": "Create enrollment", "security": [{"BearerAuth": []}], "parameters": [{"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateEnrollmentBody"}}], "responses": {"201": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "422": {"description": "Business rule failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}},
            "get": {"tags": ["Enrollments"], "summary": "List enrollments", "security": [{"BearerAuth": []}], "parameters": [{"name": "studentId", "in": "query", "type": "string"}, {"name": "courseId", "in": "query", "type": "string"}, {"name": "state", "in": "query", "type": "string"}, {"name": "page", "in": "query", "type": "integer"}, {"name": "limit", "in": "query", "type": "integer"}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/enrollments/{id}": {
            "get": {"tags": ["Enrollments"], "summary": "Get enrollment", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}},
            "delete": {"tags": ["Enrollments"], "summary": "Delete a draft or cancelled enrollment", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"204": {"description": "No Content"}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/enrollments/{id}/score": {
            "put": {"tags": ["Enrollments"], "summary": "Record a score", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}, {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetScoreBody"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/enrollments/{id}/confirm": {
            "post": {"tags": ["Enrollments"], "summary": "Confirm a draft enrollment", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}, {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/ConfirmEnrollmentBody"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "422": {"description": "Business rule failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/enrollments/{id}/enroll": {
            "post": {"tags": ["Enrollments"], "summary": "Start a confirmed enrollment", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}, {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/EnrollEnrollmentBody"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "502": {"description": "Collaborator failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/enrollments/{id}/invoice": {
            "post": {"tags": ["Enrollments"], "summary": "Invoice an enrollment", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "502": {"description": "Collaborator failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/enrollments/{id}/complete": {
            "post": {"tags": ["Enrollments"], "summary": "Complete an enrollment", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}, {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/CompleteEnrollmentBody"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "422": {"description": "Business rule failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/enrollments/{id}/cancel": {
            "post": {"tags": ["Enrollments"], "summary": "Cancel an enrollment", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}, {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/CancelEnrollmentBody"}}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "502": {"description": "Collaborator failed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        },
        "/enrollments/{id}/fail": {
            "post": {"tags": ["Enrollments"], "summary": "Fail an enrollment", "security": [{"BearerAuth": []}], "parameters": [{"name": "id", "in": "path", "type": "string", "required": true}], "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}, "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}}
        }
    },
    "definitions": {
        "CreateSchoolRequest": {"type": "object", "properties": {"name": {"type": "string"}, "code": {"type": "string"}, "address": {"type": "string"}, "phone": {"type": "string"}, "email": {"type": "string"}}, "required": ["name", "code"]},
        "CreateDepartmentRequest": {"type": "object", "properties": {"school_id": {"type": "string"}, "name": {"type": "string"}, "code": {"type": "string"}}, "required": ["school_id", "name"]},
        "CreateAcademicYearRequest": {"type": "object", "properties": {"school_id": {"type": "string"}, "name": {"type": "string"}, "code": {"type": "string"}, "start_date": {"type": "string"}, "end_date": {"type": "string"}}, "required": ["school_id", "name", "start_date", "end_date"]},
        "CreateClassRequest": {"type": "object", "properties": {"name": {"type": "string"}, "code": {"type": "string"}, "department_id": {"type": "string"}, "academic_year_id": {"type": "string"}, "teacher_user_id": {"type": "string"}, "capacity": {"type": "integer"}, "gender": {"type": "string"}}, "required": ["name", "department_id", "academic_year_id"]},
        "CreateCourseRequest": {"type": "object", "properties": {"name": {"type": "string"}, "code": {"type": "string"}, "department_id": {"type": "string"}, "teacher_user_id": {"type": "string"}, "product_ref": {"type": "string"}, "fee_amount": {"type": "number"}, "capacity": {"type": "integer"}, "required": {"type": "boolean"}, "credits": {"type": "integer"}, "duration_hours": {"type": "number"}, "prerequisite_ids": {"type": "array", "items": {"type": "string"}}}, "required": ["name", "department_id"]},
        "SetPrerequisitesRequest": {"type": "object", "properties": {"prerequisite_ids": {"type": "array", "items": {"type": "string"}}}, "required": ["prerequisite_ids"]},
        "CreateStudentBody": {"type": "object", "properties": {"party_id": {"type": "string"}, "code": {"type": "string"}, "full_name": {"type": "string"}, "gender": {"type": "string"}, "birth_date": {"type": "string"}, "class_id": {"type": "string"}, "guardian_party_ids": {"type": "array", "items": {"type": "string"}}, "auto_enroll": {"type": "boolean"}}, "required": ["party_id", "full_name"]},
        "RegisterStudentRequest": {"type": "object", "properties": {"class_id": {"type": "string"}, "student_id": {"type": "string"}, "student": {"$ref": "#/definitions/CreateStudentRequest"}}, "required": ["class_id"]},
        "StudentBatchBody": {"type": "object", "properties": {"class_id": {"type": "string"}, "students": {"type": "array", "items": {"type": "object", "properties": {"party_id": {"type": "string"}, "full_name": {"type": "string"}}, "required": ["party_id", "full_name"]}}}, "required": ["class_id", "students"]},
        "RecordAttendanceRequest": {"type": "object", "properties": {"student_id": {"type": "string"}, "class_id": {"type": "string"}, "date": {"type": "string"}, "state": {"type": "string"}, "check_in": {"type": "string"}, "check_out": {"type": "string"}, "enrollment_id": {"type": "string"}, "course_id": {"type": "string"}, "teacher_user_id": {"type": "string"}, "notes": {"type": "string"}}, "required": ["student_id", "class_id", "date", "state"]},
        "AttendanceSessionBody": {"type": "object", "properties": {"class_id": {"type": "string"}, "date": {"type": "string"}, "course_id": {"type": "string"}, "track_time": {"type": "boolean"}, "notify_absences": {"type": "boolean"}, "notify_guardians": {"type": "boolean"}, "allow_duplicate": {"type": "boolean"}, "prefill_from_class": {"type": "boolean"}, "mark_all": {"type": "string"}, "lines": {"type": "array", "items": {"type": "object", "properties": {"student_id": {"type": "string"}, "state": {"type": "string"}, "notes": {"type": "string"}}, "required": ["student_id", "state"]}}}, "required": ["class_id", "date"]},
        "CreateEnrollmentBody": {"type": "object", "properties": {"student_id": {"type": "string"}, "course_id": {"type": "string"}, "notes": {"type": "string"}, "auto_confirm": {"type": "boolean"}, "skip_prerequisites": {"type": "boolean"}, "skip_capacity": {"type": "boolean"}, "notify_teacher": {"type": "boolean"}}, "required": ["student_id", "course_id"]},
        "SetScoreBody": {"type": "object", "properties": {"score": {"type": "number"}}, "required": ["score"]},
        "CreateStudentRequest": {"type": "object", "properties": {"party_id": {"type": "string"}, "code": {"type": "string"}, "full_name": {"type": "string"}, "gender": {"type": "string"}, "birth_date": {"type": "string"}, "class_id": {"type": "string"}, "guardian_party_ids": {"type": "array", "items": {"type": "string"}}}, "required": ["party_id", "full_name"]},
        "EnrollStudentBody": {"type": "object", "properties": {"skip_validation": {"type": "boolean"}, "min_age": {"type": "integer"}}},
        "TransferStudentRequest": {"type": "object", "properties": {"target_class_id": {"type": "string"}, "target_school_id": {"type": "string"}, "reason": {"type": "string"}}},
        "SuspendStudentBody": {"type": "object", "properties": {"reason": {"type": "string"}}},
        "ConfirmEnrollmentBody": {"type": "object", "properties": {"skip_prerequisites": {"type": "boolean"}, "skip_capacity": {"type": "boolean"}, "notify_teacher": {"type": "boolean"}}},
        "EnrollEnrollmentBody": {"type": "object", "properties": {"generate_invoice": {"type": "boolean"}}},
        "CompleteEnrollmentBody": {"type": "object", "properties": {"min_attendance_percentage": {"type": "number"}, "auto_grade": {"type": "boolean"}}},
        "CancelEnrollmentBody": {"type": "object", "properties": {"reason": {"type": "string"}, "process_refund": {"type": "boolean"}}},
        "Pagination": {"type": "object", "properties": {"page": {"type": "integer"}, "page_size": {"type": "integer"}, "total_count": {"type": "integer"}}},
        "APIError": {"type": "object", "properties": {"code": {"type": "string"}, "kind": {"type": "string"}, "message": {"type": "string"}, "status": {"type": "integer"}, "details": {"type": "object"}}},
        "ResponseEnvelope": {"type": "object", "properties": {"data": {"type": "object"}, "error": {"$ref": "#/definitions/APIError"}, "pagination": {"$ref": "#/definitions/Pagination"}, "meta": {"type": "object"}}}
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
