// Package web serves the portal's local web shell: sign-in, registration and
// home pages guarded by the auth session.
package web

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/authsession/pkg/authclient"
	"github.com/tyemirov/authsession/pkg/routeguard"
	"github.com/tyemirov/authsession/pkg/session"
	webassets "github.com/tyemirov/authsession/web"
	"go.uber.org/zap"
)

var (
	errMissingSession = errors.New("web.missing_session")
	errMissingGuard   = errors.New("web.missing_guard")
)

// PortalSession is the part of the auth session the shell drives.
type PortalSession interface {
	Login(ctx context.Context, username string, password string) (session.User, error)
	Register(ctx context.Context, payload any) (map[string]any, error)
	Logout(ctx context.Context) error
	FetchCurrentUser(ctx context.Context) (session.User, error)
}

type profileView struct {
	Username string
	FullName string
	Email    string
	Role     string
}

type pageData struct {
	Title       string
	Message     string
	MessageKind string
	Username    string
	FullName    string
	Email       string
	Profile     profileView
}

// Shell renders the portal pages.
type Shell struct {
	portalSession PortalSession
	guard         *routeguard.Guard
	logger        *zap.Logger
	templates     *template.Template
}

// NewShell parses the embedded templates.
func NewShell(portalSession PortalSession, guard *routeguard.Guard, logger *zap.Logger) (*Shell, error) {
	if portalSession == nil {
		return nil, errMissingSession
	}
	if guard == nil {
		return nil, errMissingGuard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	templates, parseErr := template.ParseFS(webassets.FS, "templates/*.html")
	if parseErr != nil {
		return nil, parseErr
	}
	return &Shell{portalSession: portalSession, guard: guard, logger: logger, templates: templates}, nil
}

// Mount registers the pages on engine. Every page in the route table is
// guarded; form posts are not.
func (shell *Shell) Mount(engine *gin.Engine) {
	engine.SetHTMLTemplate(shell.templates)
	engine.GET("/static/portal.css", func(contextGin *gin.Context) {
		ServeEmbeddedAsset(contextGin, webassets.FS, "static/portal.css", "text/css; charset=utf-8")
	})

	pages := map[string]gin.HandlerFunc{
		routeguard.RouteLogin:     shell.renderLogin,
		routeguard.RouteRegister:  shell.renderRegister,
		routeguard.RouteHome:      shell.renderHome,
		routeguard.RouteAuthError: shell.renderAuthError,
	}
	for _, route := range shell.guard.Routes() {
		handler, ok := pages[route.Name]
		if !ok {
			continue
		}
		engine.GET(route.Path, shell.guard.GinMiddleware(route), handler)
	}

	engine.POST("/login", shell.submitLogin)
	engine.POST("/register", shell.submitRegister)
	engine.POST("/logout", shell.submitLogout)
}

func (shell *Shell) routePath(name string) string {
	route, ok := shell.guard.Route(name)
	if !ok {
		return "/"
	}
	return route.Path
}

func (shell *Shell) renderLogin(contextGin *gin.Context) {
	data := pageData{Title: "Sign in"}
	if contextGin.Query("registered") != "" {
		data.Message = "Account created. You can sign in now."
		data.MessageKind = "info"
	}
	contextGin.HTML(http.StatusOK, "login.html", data)
}

func (shell *Shell) renderRegister(contextGin *gin.Context) {
	contextGin.HTML(http.StatusOK, "register.html", pageData{Title: "Create an account"})
}

func (shell *Shell) renderAuthError(contextGin *gin.Context) {
	contextGin.HTML(http.StatusOK, "auth_error.html", pageData{Title: "Session ended"})
}

func (shell *Shell) renderHome(contextGin *gin.Context) {
	user, fetchErr := shell.portalSession.FetchCurrentUser(contextGin.Request.Context())
	if fetchErr != nil {
		if errors.Is(fetchErr, authclient.ErrSessionExpired) {
			contextGin.Redirect(http.StatusFound, shell.routePath(routeguard.RouteAuthError))
			return
		}
		shell.logger.Error("home profile load failed",
			zap.String("code", "web.home.profile_failed"),
			zap.Error(fetchErr))
		contextGin.Redirect(http.StatusFound, shell.routePath(routeguard.RouteLogin))
		return
	}
	contextGin.HTML(http.StatusOK, "home.html", pageData{
		Title: "Home",
		Profile: profileView{
			Username: user.String("username"),
			FullName: user.String("full_name"),
			Email:    user.String("email"),
			Role:     user.String("role"),
		},
	})
}

func (shell *Shell) submitLogin(contextGin *gin.Context) {
	username := strings.TrimSpace(contextGin.PostForm("username"))
	password := contextGin.PostForm("password")
	if username == "" || password == "" {
		contextGin.HTML(http.StatusBadRequest, "login.html", pageData{
			Title: "Sign in", Message: "Enter your username and password.", MessageKind: "error", Username: username,
		})
		return
	}
	if _, loginErr := shell.portalSession.Login(contextGin.Request.Context(), username, password); loginErr != nil {
		status, message := loginFailure(loginErr)
		shell.logger.Info("portal sign-in rejected",
			zap.String("code", "web.login.rejected"),
			zap.Int("status", status),
			zap.Error(loginErr))
		contextGin.HTML(status, "login.html", pageData{
			Title: "Sign in", Message: message, MessageKind: "error", Username: username,
		})
		return
	}
	contextGin.Redirect(http.StatusFound, shell.routePath(routeguard.RouteHome))
}

func (shell *Shell) submitRegister(contextGin *gin.Context) {
	data := pageData{
		Title:    "Create an account",
		Username: strings.TrimSpace(contextGin.PostForm("username")),
		FullName: strings.TrimSpace(contextGin.PostForm("full_name")),
		Email:    strings.TrimSpace(contextGin.PostForm("email")),
	}
	payload := map[string]string{
		"username":  data.Username,
		"password":  contextGin.PostForm("password"),
		"full_name": data.FullName,
		"email":     data.Email,
	}
	if _, registerErr := shell.portalSession.Register(contextGin.Request.Context(), payload); registerErr != nil {
		status, message := registerFailure(registerErr)
		data.Message = message
		data.MessageKind = "error"
		contextGin.HTML(status, "register.html", data)
		return
	}
	contextGin.Redirect(http.StatusFound, shell.routePath(routeguard.RouteLogin)+"?registered=1")
}

func (shell *Shell) submitLogout(contextGin *gin.Context) {
	if logoutErr := shell.portalSession.Logout(contextGin.Request.Context()); logoutErr != nil {
		shell.logger.Warn("portal sign-out navigation failed",
			zap.String("code", "web.logout.navigation_failed"),
			zap.Error(logoutErr))
	}
	contextGin.Redirect(http.StatusFound, shell.routePath(routeguard.RouteLogin))
}
