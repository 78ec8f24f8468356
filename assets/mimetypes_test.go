package assets

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMimeTypes(t *testing.T) {
	Convey("Given the default MIME table", t, func() {
		m := NewMimeTypes()

		Convey("Known extensions resolve regardless of case", func() {
			So(m.MimeByExtension("/assets/example.txt"), ShouldEqual, "text/plain")
			So(m.MimeByExtension("/assets/EXAMPLE.TXT"), ShouldEqual, "text/plain")
			So(m.MimeByExtension("movie.mp4"), ShouldEqual, "video/mp4")
			So(m.MimeByExtension("song.m4a"), ShouldEqual, "audio/mp4")
		})

		Convey("Paths without an extension are unknown", func() {
			So(m.MimeByExtension("/assets/"), ShouldBeEmpty)
			So(m.MimeByExtension("/assets/some_directory"), ShouldBeEmpty)
		})

		Convey("Mappings can be added", func() {
			So(m.MimeByExtension("foo.bar"), ShouldBeEmpty)
			m.AddMimeMapping(".bar", "application/x-bar")
			So(m.MimeByExtension("foo.bar"), ShouldEqual, "application/x-bar")
		})

		Convey("Tables do not share mappings", func() {
			m.AddMimeMapping("txt", "application/octet-stream")
			So(NewMimeTypes().MimeByExtension("a.txt"), ShouldEqual, "text/plain")
		})
	})

	Convey("Handlers use custom mappings for content types", t, func() {
		m := NewMimeTypes()
		m.AddMimeMapping("bar", "text/x-bar")
		h, err := NewHandler(Config{FS: testFS(), ResourcePath: "/assets", URIPath: "/", DefaultCharset: "utf-8", MimeTypes: m})
		So(err, ShouldBeNil)

		rec := get(h, "/foo.bar", nil)
		So(rec.Header().Get("Content-Type"), ShouldEqual, "text/x-bar; charset=utf-8")
	})
}
