package main

import (
	"cmp"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/expvarhandler"
	"github.com/zeebo/blake3"

	"nb/internal/model"
)

var (
	blobDir string
	server  *fasthttp.Server
)

// hashEntry derives a CacheEntry's content key from every field that
// identifies the cached fact, independent of row order, so two uploads of
// the same command+inputs+deps collide on the same key regardless of which
// client raced to upload first.
func hashEntry(entry *model.CacheEntry) string {
	slices.SortFunc(entry.Deps, func(a, b *model.CacheDep) int {
		return cmp.Compare(a.FilePath, b.FilePath)
	})
	h := blake3.New()
	fmt.Fprintf(h, "n:%s,%s,%s,%s,%s\n",
		entry.Instance, entry.OutputPath, entry.CommandHash, entry.OutputHash, entry.InputHash)
	for _, dep := range entry.Deps {
		fmt.Fprintf(h, "d:%s,%s\n", dep.FilePath, dep.FileHash)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func parseUploadedEntry(ctx *fasthttp.RequestCtx) (*model.CacheEntry, error) {
	body := ctx.FormValue("entry")
	decoded := make([]byte, base64.StdEncoding.DecodedLen(len(body)))
	n, err := base64.StdEncoding.Decode(decoded, body)
	if err != nil {
		return nil, err
	}
	var entry model.CacheEntry
	if err := json.Unmarshal(decoded[:n], &entry); err != nil {
		return nil, err
	}

	expiry := 5 * time.Minute
	if s := string(ctx.FormValue("expired_duration")); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			expiry = d
		}
	}
	now := time.Now().Unix()
	entry.CreatedAt = now
	entry.LastAccess = now
	entry.ExpiredDuration = int64(expiry)
	return &entry, nil
}

// handleUpload records a cache entry plus its blob. The blob is stored
// exactly once per distinct (command, inputs, deps) combination: a repeat
// upload for a key that's already on disk is acknowledged without
// re-saving or re-inserting.
func handleUpload(ctx *fasthttp.RequestCtx) {
	entry, err := parseUploadedEntry(ctx)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}
	header, err := ctx.FormFile("file")
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
		return
	}

	entry.ParamsHash = hashEntry(entry)
	exists, err := entryExists(entry.ParamsHash)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	if exists {
		ctx.Success("text/plain", []byte("already exists"))
		return
	}

	if err := fasthttp.SaveMultipartFile(header, filepath.Join(blobDir, entry.ParamsHash)); err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	if err := saveEntry(entry); err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.Success("text/plain", []byte("saved"))
}

// handleQuery answers "has anyone already built this" for a driver
// deciding whether it can skip a rule invocation.
func handleQuery(ctx *fasthttp.RequestCtx) {
	instance := string(ctx.QueryArgs().Peek("instance"))
	output := string(ctx.QueryArgs().Peek("output"))
	commandHash := string(ctx.QueryArgs().Peek("command_hash"))
	inputHash := string(ctx.QueryArgs().Peek("input_hash"))

	candidates, err := findCandidates(instance, output, commandHash, inputHash)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusNotFound)
		return
	}
	for _, c := range candidates {
		if err := touchLastAccess(c.ParamsHash); err != nil {
			log.Printf("nbcache: touching last access for %s: %v", c.ParamsHash, err)
		}
	}
	buf, err := json.Marshal(candidates)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(buf)
}

func requestHandler(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/upload":
		handleUpload(ctx)
	case "/query":
		handleQuery(ctx)
	case "/debug/vars":
		expvarhandler.ExpvarHandler(ctx)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func serve(addr, dir string) error {
	blobDir = dir
	server = &fasthttp.Server{
		Handler:      requestHandler,
		ReadTimeout:  15 * time.Minute,
		WriteTimeout: 15 * time.Minute,
	}
	log.Printf("nbcache: listening on %s, blobs in %s", addr, dir)
	return server.ListenAndServe(addr)
}
