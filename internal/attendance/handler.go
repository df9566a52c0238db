package attendance

import (
	"errors"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	qrcode "github.com/skip2/go-qrcode"

	"presensi-backend/internal/platform/auth"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	registerValidators()
	h := &Handler{svc: svc}
	staff := auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin)
	anyone := auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin, auth.RoleStudent)

	// 1. QRチェックイン
	r.POST("/qr-sessions", staff, h.IssueToken)
	r.GET("/qr-sessions/:token", staff, h.GetToken)
	r.GET("/qr-sessions/:token/qr.png", staff, h.TokenImage)
	r.POST("/qr-sessions/:token/redeem", anyone, h.Redeem)

	// 2. 手入力・一括
	r.POST("/attendances", staff, h.RecordAttendance)
	r.POST("/attendances/batch", staff, h.SubmitBatch)
	r.GET("/attendances", staff, h.GetAttendance)

	// 3. 集計
	r.GET("/stats/students/:student_id/rate", anyone, h.Rate)
	r.GET("/stats/students/:student_id/consecutive-absences", staff, h.ConsecutiveAbsences)
	r.GET("/stats/counts", staff, h.StatusCounts)
}

// ===== validators =====

var (
	validatorsOnce sync.Once
	nisnPattern    = regexp.MustCompile(`^[0-9]{10}$`)
)

// registerValidators: NISN（10桁）を binding タグで使えるようにする
func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		if err := v.RegisterValidation("nisn", func(fl validator.FieldLevel) bool {
			return nisnPattern.MatchString(fl.Field().String())
		}); err != nil {
			log.Printf("[WARN] register nisn validator: %v", err)
		}
	})
}

// ===== DTO =====

type IssueTokenRequest struct {
	ScheduleID      string `json:"schedule_id" binding:"required"`
	ValidForSeconds int    `json:"valid_for_seconds" binding:"omitempty,min=1"`
}

type IssueTokenResponse struct {
	QRToken
	ImageURL string `json:"image_url"`
}

// RedeemRequest: 生徒本人のトークンなら省略可。教員の代理読み取りは student_id か nisn
type RedeemRequest struct {
	StudentID string `json:"student_id"`
	NISN      string `json:"nisn" binding:"omitempty,nisn"`
}

type BatchRequest struct {
	Items []Entry `json:"items" binding:"required,min=1"`
}

// ===== QR =====

// POST /qr-sessions
func (h *Handler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	validFor := time.Duration(req.ValidForSeconds) * time.Second
	tok, err := h.svc.IssueToken(c.Request.Context(), req.ScheduleID, validFor, auth.CurrentUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Location", "/qr-sessions/"+tok.Token)
	c.JSON(http.StatusCreated, IssueTokenResponse{QRToken: tok, ImageURL: "qr-sessions/" + tok.Token + "/qr.png"})
}

// GET /qr-sessions/:token
func (h *Handler) GetToken(c *gin.Context) {
	tok, err := h.svc.LookupToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tok)
}

// GET /qr-sessions/:token/qr.png
func (h *Handler) TokenImage(c *gin.Context) {
	token := c.Param("token")
	if _, err := h.svc.LookupToken(c.Request.Context(), token); err != nil {
		h.fail(c, err)
		return
	}
	png, err := qrcode.Encode(token, qrcode.Medium, 256)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// POST /qr-sessions/:token/redeem
func (h *Handler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or nisn"))
			return
		}
	}
	ctx := c.Request.Context()

	studentID := strings.TrimSpace(req.StudentID)
	switch {
	case auth.CurrentRole(c) == auth.RoleStudent:
		// 生徒は自分の分しか打刻できない
		studentID = auth.CurrentUserID(c)
	case studentID == "" && req.NISN != "":
		st, err := h.svc.dir.FindStudentByNISN(ctx, req.NISN)
		if err != nil {
			h.fail(c, err)
			return
		}
		studentID = st.ID
	}

	rec, err := h.svc.Redeem(ctx, c.Param("token"), studentID, time.Time{})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// ===== attendances =====

// POST /attendances
func (h *Handler) RecordAttendance(c *gin.Context) {
	var req Entry
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	res, err := h.svc.Record(c.Request.Context(), req, auth.CurrentUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusCreated
	if !res.Changed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// POST /attendances/batch
func (h *Handler) SubmitBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	res, err := h.svc.SubmitBatch(c.Request.Context(), req.Items, auth.CurrentUserID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /attendances?student_id=&schedule_id=&date=[&history=1]
func (h *Handler) GetAttendance(c *gin.Context) {
	studentID, scheduleID, date := c.Query("student_id"), c.Query("schedule_id"), c.Query("date")
	if c.Query("history") == "1" {
		recs, err := h.svc.GetHistory(c.Request.Context(), studentID, scheduleID, date)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": recs})
		return
	}
	rec, err := h.svc.GetRecord(c.Request.Context(), studentID, scheduleID, date)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ===== stats =====

// GET /stats/students/:student_id/rate?from=&to=
func (h *Handler) Rate(c *gin.Context) {
	studentID := c.Param("student_id")
	if auth.CurrentRole(c) == auth.RoleStudent && auth.CurrentUserID(c) != studentID {
		h.fail(c, ErrForbidden("students may only read their own rate"))
		return
	}
	res, err := h.svc.Rate(c.Request.Context(), studentID, c.Query("from"), c.Query("to"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /stats/students/:student_id/consecutive-absences
func (h *Handler) ConsecutiveAbsences(c *gin.Context) {
	studentID := c.Param("student_id")
	n, err := h.svc.StudentConsecutiveAbsences(c.Request.Context(), studentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student_id": studentID, "consecutive_absences": n})
}

// GET /stats/counts?student_id=|class_id=&from=&to=
func (h *Handler) StatusCounts(c *gin.Context) {
	scope := Scope{StudentID: c.Query("student_id"), ClassID: c.Query("class_id")}
	counts, err := h.svc.StatusCounts(c.Request.Context(), scope, c.Query("from"), c.Query("to"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

// ---------- helpers ----------

type errorDTO struct {
	Error struct {
		Code     Code    `json:"code"`
		Message  string  `json:"message"`
		Existing *Record `json:"existing_record,omitempty"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	var de *DomainError
	if errors.As(err, &de) {
		e := errorBody(de.Code, de.Message)
		e.Error.Existing = de.Existing
		return e
	}
	// 内部エラーの詳細は返さない
	return errorBody(CodeInternal, "internal error")
}

func (h *Handler) fail(c *gin.Context, err error) {
	if !isDomain(err) {
		log.Printf("[ERROR] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(toHTTPStatus(err), errorFromErr(err))
}
