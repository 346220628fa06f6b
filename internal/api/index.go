package api

// indexHTML is the minimal upload page served at /.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>convertd</title>
  <style>
    body { font-family: sans-serif; max-width: 40rem; margin: 4rem auto; }
    form { border: 1px dashed #999; padding: 2rem; }
  </style>
</head>
<body>
  <h1>convertd</h1>
  <p>Upload an office document and receive it back as PDF.</p>
  <form action="/convert" method="post" enctype="multipart/form-data">
    <input type="file" name="file" required>
    <button type="submit">Convert to PDF</button>
  </form>
</body>
</html>
`
